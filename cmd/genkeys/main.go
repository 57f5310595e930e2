// Command genkeys generates or repairs the server RSA keypair without
// starting the service, for provisioning a host before first traffic.
package main

import (
	"flag"
	"log"

	"github.com/sealight/filecustody/internal/keys"
)

func main() {
	keysDir := flag.String("keys-dir", "keys", "RSA keypair directory")
	flag.Parse()

	custodian := keys.NewCustodian(*keysDir)
	if err := custodian.EnsureKeys(); err != nil {
		log.Fatalf("Failed to ensure key material: %v", err)
	}

	log.Printf("Public key:  %s", custodian.PublicKeyPath)
	log.Printf("Private key: %s", custodian.PrivateKeyPath)
}
