// Package app composes the card engine: it opens the configured store and
// chain client, builds the prize, grid, provisioning, scratch and claim
// services, and manages the lifecycle of everything that needs closing.
//
// Business rules live in internal/app/services; HTTP handling lives in
// internal/app/httpapi.
package app
