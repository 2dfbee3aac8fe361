package main

import (
	"flag"
	"fmt"
	"os"

	"vaultd/cmd/internal/passphrase"
	"vaultd/crypto"
)

func main() {
	keystorePath := flag.String("keystore", "", "Write the generated key to this encrypted keystore file")
	inspectPath := flag.String("inspect", "", "Print the address of an existing keystore file and exit")
	passphraseEnv := flag.String("passphrase-env", "VAULTD_KEYSTORE_PASSPHRASE", "Environment variable consulted for the keystore passphrase")
	flag.Parse()

	secret := passphrase.NewSource(*passphraseEnv)

	if *inspectPath != "" {
		pass, err := secret.Get()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve passphrase: %v\n", err)
			os.Exit(1)
		}
		key, err := crypto.LoadFromKeystore(*inspectPath, pass)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open keystore: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key.PubKey().Address().String())
		return
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}
	if *keystorePath != "" {
		pass, err := secret.GetConfirmed()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve passphrase: %v\n", err)
			os.Exit(1)
		}
		addr, err := crypto.SaveToKeystore(*keystorePath, key, pass)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write keystore: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "keystore for %s written to %s\n", addr, *keystorePath)
	}
	fmt.Println(key.PubKey().Address().String())
}
