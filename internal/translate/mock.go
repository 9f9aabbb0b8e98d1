package translate

import (
	"context"
	"strings"
)

type mockClient struct{}

// NewMockClient tags text with the target code instead of translating it.
func NewMockClient() Client { return mockClient{} }

func (mockClient) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "[" + targetCode + "] " + strings.TrimSpace(text), nil
}
