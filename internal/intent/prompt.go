package intent

import (
	"strings"

	"petassist/internal/catalog"
	"petassist/internal/domain"
)

const classifyPrompt = `You classify messages sent to the assistant of an online pet store.

Pick exactly one label:
UPDATE_CART: the user wants to add a product to their shopping cart.
VIEW_CART: the user wants to see what is in their shopping cart.
PLACE_ORDER: the user wants to check out or place their order.
SEARCH_PRODUCTS: the user is looking for products the store sells (toys, food, accessories).
OTHER: anything else, including general questions about pets and animals.

Answer with a single JSON object and nothing else:
{"classification": "<LABEL>", "response": "<one short, friendly sentence acknowledging the request>"}`

const searchPrompt = `You are the shopping assistant of an online pet store.
Recommend products from the catalog below that match the user's request. Only recommend
products that appear in the catalog and never invent product ids.

Catalog (id | name | category | price | description):
%CATALOG%
Answer with a single JSON object and nothing else:
{"response": "<your answer to the user, naming the products>", "productIds": ["<id>", ...]}
Use an empty productIds list when nothing in the catalog matches.`

const otherPrompt = `You are the assistant of an online pet store. Answer questions about pets
and animals in a friendly, concise way (at most a short paragraph). If the user asks about
something unrelated to pets or the store, politely steer the conversation back.

Answer with a single JSON object and nothing else:
{"response": "<your answer>"}`

// PromptBuilder renders the system prompts for each collaborator call.
type PromptBuilder struct {
	catalog *catalog.Catalog
}

func NewPromptBuilder(c *catalog.Catalog) *PromptBuilder {
	return &PromptBuilder{catalog: c}
}

func (b *PromptBuilder) Classify() string {
	return classifyPrompt
}

// Complete returns the system prompt for a completion under label.
func (b *PromptBuilder) Complete(label domain.Label) string {
	if label == domain.LabelSearchProducts {
		listing := "(the catalog is empty)\n"
		if b.catalog != nil && b.catalog.Len() > 0 {
			listing = b.catalog.Describe()
		}
		return strings.Replace(searchPrompt, "%CATALOG%", listing, 1)
	}
	return otherPrompt
}

func messages(system, user string) []domain.Message {
	return []domain.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
