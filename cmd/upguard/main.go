// Command upguard runs the upstream orchestrator from a YAML file and
// serves its status, health and metrics over HTTP.
//
// Usage:
//
//	upguard run --config upguard.yaml
//	upguard check --config upguard.yaml
//	upguard presets
package main

func main() {
	Execute()
}
