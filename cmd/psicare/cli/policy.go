package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/psicare/psicare/internal/policy"
)

// DumpPolicy writes the compiled default policy table as yaml or json.
func DumpPolicy(w io.Writer, format string) error {
	view := policy.Dump()
	switch format {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return fmt.Errorf("policy dump: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	default:
		return fmt.Errorf("policy dump: unsupported format %q", format)
	}
}
