package client

import (
	"context"
	"fmt"

	"github.com/cks-portal/be-hub-orders/internal/workflow"
)

// FulfillmentClient creates the downstream artifact when an approval chain
// completes successfully: a service instance for service orders, a delivery
// for product orders.
type FulfillmentClient struct {
	client *httpClient
}

// NewFulfillmentClient creates a new fulfillment service client.
func NewFulfillmentClient(baseURL string) *FulfillmentClient {
	return &FulfillmentClient{client: newHTTPClient(baseURL)}
}

// CreateFulfillmentRequest is the payload for both fulfillment kinds.
type CreateFulfillmentRequest struct {
	OrderID       string `json:"order_id"`
	OrderType     string `json:"order_type"`
	DestinationID string `json:"destination_id"`
	RequestedBy   string `json:"requested_by"`
}

// CreateFulfillmentResponse carries the downstream reference.
type CreateFulfillmentResponse struct {
	ID string `json:"id"`
}

// CreateFulfillment creates the downstream service or delivery and returns
// its reference. Invoked exactly once per order, only on the transition into
// a terminal success status.
func (c *FulfillmentClient) CreateFulfillment(ctx context.Context, order *workflow.Order) (string, error) {
	path := "/api/v1/services"
	if order.OrderType == workflow.OrderTypeProduct {
		path = "/api/v1/deliveries"
	}

	req := CreateFulfillmentRequest{
		OrderID:       order.OrderID,
		OrderType:     string(order.OrderType),
		DestinationID: order.DestinationID,
		RequestedBy:   order.CreatedByID,
	}

	var resp CreateFulfillmentResponse
	if err := c.client.Post(ctx, path, req, &resp); err != nil {
		return "", fmt.Errorf("failed to create fulfillment: %w", err)
	}
	return resp.ID, nil
}
