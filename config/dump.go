package config

import (
	"encoding/json"

	"github.com/zecflow/core/secret"
)

// Dump renders cfg as indented JSON with every secret-bearing field
// masked, backing the dumpconfig subcommand (spec.md §6).
func Dump(cfg Config) ([]byte, error) {
	masked := cfg
	maskIfSet(&masked.Auth.JWTSecret)
	maskIfSet(&masked.Auth.RefreshSecret)
	maskIfSet(&masked.Auth.EncryptionKey)
	maskIfSet(&masked.Zcash.RPCPassword)
	maskIfSet(&masked.NilDB.APIKey)
	maskIfSet(&masked.NilAI.APIKey)
	maskIfSet(&masked.NilCC.APIKey)
	maskIfSet(&masked.Social.APIKey)
	return json.MarshalIndent(masked, "", "  ")
}

func maskIfSet(field *string) {
	if *field != "" {
		*field = secret.MaskString(*field)
	}
}
