// Package mongodb implements the docdb interfaces on MongoDB.
package mongodb

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/docbridge/docbridge/internal/core/docdb"
)

// ClientConfig holds MongoDB connection configuration.
type ClientConfig struct {
	URI          string
	DatabaseName string

	// ClientCertPEM and ClientKeyPEM enable X.509 client authentication.
	// Escaped "\n" sequences in either value are normalized to real line
	// breaks before parsing.
	ClientCertPEM string
	ClientKeyPEM  string
}

// Client implements the docdb.Client interface for MongoDB.
type Client struct {
	client   *mongo.Client
	database *database
}

// NewClient creates a new MongoDB client and verifies the connection.
func NewClient(ctx context.Context, config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.URI == "" {
		return nil, fmt.Errorf("mongodb URI is required")
	}
	if config.DatabaseName == "" {
		return nil, fmt.Errorf("database name is required")
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientCertPEM != "" && config.ClientKeyPEM != "" {
		cert, err := tls.X509KeyPair(
			[]byte(normalizeLineBreaks(config.ClientCertPEM)),
			[]byte(normalizeLineBreaks(config.ClientKeyPEM)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse client certificate: %w", err)
		}
		clientOpts.SetTLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Client{
		client:   client,
		database: &database{client: client, db: client.Database(config.DatabaseName)},
	}, nil
}

// Database returns the database interface.
func (c *Client) Database() docdb.Database {
	return c.database
}

// Ping verifies the connection to MongoDB.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return mapError(err, "ping")
	}
	return nil
}

// Close closes the MongoDB connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}

// normalizeLineBreaks converts escaped "\n" sequences into real line breaks,
// as produced by single-line environment values holding PEM material.
func normalizeLineBreaks(pem string) string {
	return strings.ReplaceAll(pem, `\n`, "\n")
}
