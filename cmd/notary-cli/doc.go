// Notary-cli sends one chat request to an OpenAI-compatible model API over a
// notarized TLS session and writes a selective-disclosure proof of the
// exchange.
//
// Usage:
//
//	notary-cli run -m '{"role":"user","content":"hi"}' -o proof.json
//	notary-cli verify proof.json --notary 0xabc...
//	notary-cli list
//
// Configuration is read from the environment and an optional .env file.
package main
