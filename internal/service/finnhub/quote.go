package finnhub

import (
	"context"
	"fmt"
	"strings"

	"StockAlert/internal/domain/models"
	drepo "StockAlert/internal/domain/repository"
	xhttp "StockAlert/pkg/http"
)

// Quotes reads the REST /quote endpoint.
type Quotes struct {
	apiKey  string
	baseURL string
	client  *xhttp.Client
}

var _ drepo.QuoteSource = (*Quotes)(nil)

func NewQuotes(apiKey, baseURL string, client *xhttp.Client) *Quotes {
	return &Quotes{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (q *Quotes) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	var out models.Quote
	err := q.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         q.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {symbol}},
		Headers:     map[string]string{"X-Finnhub-Token": q.apiKey},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}
	if out.Current == 0 && out.PrevClose == 0 {
		return nil, fmt.Errorf("finnhub quote %s: %w", symbol, models.ErrNotFound)
	}
	return &out, nil
}
