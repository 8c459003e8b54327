// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package notify

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
)

// ErrGone reports that the destination connection has been closed.
var ErrGone = errors.New("notify: connection gone")

// Transport pushes raw payloads to an open client connection.
type Transport interface {
	Post(ctx context.Context, connectionID string, data []byte) error
}

// APIGatewayTransport pushes over the API Gateway WebSocket management API.
type APIGatewayTransport struct {
	client *apigatewaymanagementapi.Client
}

// NewAPIGatewayTransport builds a transport targeting the given WebSocket
// management endpoint.
func NewAPIGatewayTransport(awsCfg aws.Config, endpoint string) *APIGatewayTransport {
	client := apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &APIGatewayTransport{client: client}
}

// Post sends data to one connection, translating a closed connection into
// ErrGone so callers can clean up the stale handle.
func (t *APIGatewayTransport) Post(ctx context.Context, connectionID string, data []byte) error {
	_, err := t.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err != nil {
		var gone *apigwtypes.GoneException
		if errors.As(err, &gone) {
			return ErrGone
		}
		return err
	}
	return nil
}
