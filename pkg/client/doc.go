// Package client provides HTTP clients for the engine node and control
// plane APIs, plus the adapter the router uses to drive remote nodes.
package client
