// Notary-server runs a standalone notary. Provers connect over a websocket
// at /<NOTARY_PATH>/notarize, and the server signs each session header once
// the prover's TLS session is closed.
package main
