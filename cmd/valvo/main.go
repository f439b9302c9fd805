// Valvo - Configuration Compliance Enforcement
// Normalize. Decide. Remediate.
package main

func main() {
	Execute()
}
