// Package adapter implements the OBP message contract: operation names, the
// Result union returned for every request, the synthetic banking handlers and
// the Dispatcher that routes between them.
package adapter
