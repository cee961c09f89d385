package command

import (
	"context"
	"time"

	"github.com/bivex/storekit-settlement/internal/application/dto"
	"github.com/bivex/storekit-settlement/internal/domain/service"
)

const productsRequestTimeout = 30 * time.Second

// ProductRequester asks the App Store for product details
type ProductRequester interface {
	RequestProducts(ctx context.Context, productIDs []string) (*service.ProductsResult, error)
}

// RequestProductsCommand handles product requests
type RequestProductsCommand struct {
	store ProductRequester
}

// NewRequestProductsCommand creates a new request products command
func NewRequestProductsCommand(store ProductRequester) *RequestProductsCommand {
	return &RequestProductsCommand{store: store}
}

// Execute requests the products and waits for the device to relay the answer
func (c *RequestProductsCommand) Execute(ctx context.Context, req *dto.RequestProductsRequest) (*dto.ProductsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, productsRequestTimeout)
	defer cancel()

	res, err := c.store.RequestProducts(ctx, req.ProductIDs)
	if err != nil {
		return nil, err
	}
	return &dto.ProductsResponse{
		Products:           res.Products,
		InvalidIdentifiers: res.InvalidIdentifiers,
	}, nil
}
