package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petassist/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeClassifier struct {
	result domain.ClassificationResult
	err    error
	texts  []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (domain.ClassificationResult, error) {
	f.texts = append(f.texts, text)
	return f.result, f.err
}

type completeCall struct {
	text  string
	label domain.Label
}

type fakeCompleter struct {
	result domain.ClassificationResult
	err    error
	calls  []completeCall
}

func (f *fakeCompleter) Complete(ctx context.Context, text string, label domain.Label) (domain.ClassificationResult, error) {
	f.calls = append(f.calls, completeCall{text: text, label: label})
	return f.result, f.err
}

type cartCall struct {
	session   domain.SessionInfo
	productID string
}

type fakeCommerce struct {
	result domain.ClassificationResult
	err    error
	calls  []cartCall
}

func (f *fakeCommerce) UpdateCart(ctx context.Context, s domain.SessionInfo, productID string) (domain.ClassificationResult, error) {
	f.calls = append(f.calls, cartCall{session: s, productID: productID})
	return f.result, f.err
}

type fixture struct {
	classifier *fakeClassifier
	completer  *fakeCompleter
	commerce   *fakeCommerce
	d          *Dispatcher
}

func newFixture(label domain.Label) *fixture {
	f := &fixture{
		classifier: &fakeClassifier{result: domain.ClassificationResult{Label: label, Response: "classifier reply"}},
		completer:  &fakeCompleter{result: domain.ClassificationResult{Response: "completion reply"}},
		commerce:   &fakeCommerce{result: domain.ClassificationResult{Response: "cart reply"}},
	}
	f.d = New(Config{
		Classifier: f.classifier,
		Completer:  f.completer,
		Commerce:   f.commerce,
		Logger:     testLogger(),
	})
	return f
}

func TestDispatch_SearchProductsScenario(t *testing.T) {
	f := newFixture(domain.LabelSearchProducts)
	f.completer.result.Response = "We have squeaky bones and rope toys."

	reply, err := f.d.Handle(context.Background(), "i want to see dog toys")
	require.NoError(t, err)

	require.Len(t, f.completer.calls, 1)
	assert.Equal(t, "i want to see dog toys", f.completer.calls[0].text)
	assert.Equal(t, domain.LabelSearchProducts, f.completer.calls[0].label)
	assert.Equal(t, "We have squeaky bones and rope toys.", reply)
	assert.Empty(t, f.commerce.calls)
}

func TestDispatch_OtherUsesCompletion(t *testing.T) {
	f := newFixture(domain.LabelOther)

	out, err := f.d.Dispatch(context.Background(), "How long do Cats Live?")
	require.NoError(t, err)

	require.Len(t, f.completer.calls, 1)
	assert.Equal(t, "how long do cats live?", f.completer.calls[0].text)
	assert.Equal(t, domain.LabelOther, f.completer.calls[0].label)
	assert.Equal(t, BranchCompletion, out.Branch)
	assert.Equal(t, "completion reply", out.Reply)
}

func TestDispatch_UpdateCartScenario(t *testing.T) {
	f := newFixture(domain.LabelUpdateCart)
	f.completer.result.ProductIDs = []string{"P42"}

	out, err := f.d.Dispatch(context.Background(), "sessionId=abc123&csrf=xyz update cart with leash")
	require.NoError(t, err)

	require.Len(t, f.classifier.texts, 1)
	assert.Equal(t, "update cart with leash", f.classifier.texts[0])

	require.Len(t, f.completer.calls, 1)
	assert.Equal(t, domain.LabelSearchProducts, f.completer.calls[0].label)
	assert.Contains(t, f.completer.calls[0].text, "'update cart with leash'")

	require.Len(t, f.commerce.calls, 1)
	assert.Equal(t, "abc123", f.commerce.calls[0].session.SessionID)
	assert.Equal(t, "xyz", f.commerce.calls[0].session.CSRFToken)
	assert.Equal(t, "P42", f.commerce.calls[0].productID)

	assert.Equal(t, BranchCart, out.Branch)
	assert.Equal(t, "P42", out.ProductID)
	assert.Equal(t, "cart reply", out.Reply)
}

func TestDispatch_UpdateCartUnresolvedKeepsClassification(t *testing.T) {
	for _, ids := range [][]string{nil, {}, {"P1", "P2"}, {"P1", "P2", "P3"}} {
		f := newFixture(domain.LabelUpdateCart)
		f.completer.result.ProductIDs = ids

		out, err := f.d.Dispatch(context.Background(), "sessionid=s&csrf=t add something")
		require.NoError(t, err)

		assert.Len(t, f.completer.calls, 1)
		assert.Empty(t, f.commerce.calls, "ids=%v", ids)
		assert.Equal(t, BranchUnresolved, out.Branch)
		assert.Equal(t, "classifier reply", out.Reply)
	}
}

func TestDispatch_UpdateCartWithoutSession(t *testing.T) {
	f := newFixture(domain.LabelUpdateCart)
	f.completer.result.ProductIDs = []string{"P42"}

	out, err := f.d.Dispatch(context.Background(), "add the leash to my cart")
	require.NoError(t, err)

	assert.Equal(t, ReplyNoSessionForCart, out.Reply)
	assert.Equal(t, BranchNoSession, out.Branch)
	assert.Empty(t, f.completer.calls)
	assert.Empty(t, f.commerce.calls)
}

func TestDispatch_FixedRepliesNeverCallCollaborators(t *testing.T) {
	inputs := []string{
		"show me my cart",
		"sessionid=s1&csrf=t1 show me my cart",
		"",
		"SESSIONID=A&CSRF=B CHECKOUT NOW",
	}
	cases := map[domain.Label]string{
		domain.LabelViewCart:   ReplyViewCart,
		domain.LabelPlaceOrder: ReplyPlaceOrder,
	}
	for label, want := range cases {
		for _, in := range inputs {
			f := newFixture(label)
			f.completer.err = errors.New("must not be called")
			f.commerce.err = errors.New("must not be called")

			reply, err := f.d.Handle(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, want, reply)
			assert.Len(t, f.classifier.texts, 1)
			assert.Empty(t, f.completer.calls)
			assert.Empty(t, f.commerce.calls)
		}
	}
}

func TestDispatch_ClassifierFailureEndsTurn(t *testing.T) {
	f := newFixture(domain.LabelOther)
	f.classifier.err = errors.New("llm down")

	reply, err := f.d.Handle(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, reply)
	assert.Empty(t, f.completer.calls)
}

func TestDispatch_CompletionFailureEndsTurn(t *testing.T) {
	f := newFixture(domain.LabelSearchProducts)
	f.completer.err = errors.New("timeout")

	_, err := f.d.Handle(context.Background(), "cat food")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDispatch_CommerceFailureEndsTurn(t *testing.T) {
	f := newFixture(domain.LabelUpdateCart)
	f.completer.result.ProductIDs = []string{"P1"}
	f.commerce.err = errors.New("409 conflict")

	_, err := f.d.Handle(context.Background(), "sessionid=s&csrf=t add ball")
	require.Error(t, err)
	assert.Len(t, f.commerce.calls, 1)
}

func TestDispatch_UnknownLabelIsRejected(t *testing.T) {
	f := newFixture(domain.Label(42))

	_, err := f.d.Handle(context.Background(), "hello")
	require.ErrorIs(t, err, domain.ErrUnknownLabel)
	assert.Empty(t, f.completer.calls)
}

func TestDispatch_LowercasesTextButNotSession(t *testing.T) {
	f := newFixture(domain.LabelUpdateCart)
	f.completer.result.ProductIDs = []string{"P7"}

	_, err := f.d.Handle(context.Background(), "Add The BALL sessionid=JSESSION9F&csrf=CsRf")
	require.NoError(t, err)

	assert.Equal(t, "add the ball", f.classifier.texts[0])
	require.Len(t, f.commerce.calls, 1)
	assert.Equal(t, "JSESSION9F", f.commerce.calls[0].session.SessionID)
	assert.Equal(t, "CsRf", f.commerce.calls[0].session.CSRFToken)
	assert.False(t, strings.Contains(f.commerce.calls[0].session.Text, "sessionid"))
}
