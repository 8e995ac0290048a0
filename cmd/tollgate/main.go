// Tollgate enforces per-user and per-endpoint request rate limits and
// allocates token budgets by priority.
//
// Usage:
//
//	# Run the limiter service with its admin server
//	tollgate run --config tollgate.yaml
//
//	# Set and inspect a token budget
//	tollgate limits set --user alice --max-tokens 10000 --period "1 day"
//	tollgate limits show --user alice
//
//	# Ask for tokens
//	tollgate allocate --user alice --tokens 500 --priority high
//
//	# Evaluate a request against the rate-limit policy
//	tollgate check --user alice --endpoint /v1/chat
package main

func main() {
	Execute()
}
