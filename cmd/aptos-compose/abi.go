package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/aperturerobotics/go-aptos-composer-wasi/modcache"
)

func newABICmd() *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "abi <address::module[::function]>",
		Short: "Print the ABI of a module or one of its functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleID, function := args[0], ""
			if parts := strings.Split(args[0], "::"); len(parts) == 3 {
				moduleID, function = parts[0]+"::"+parts[1], parts[2]
			}

			resolver, closeResolver, err := openResolver()
			if err != nil {
				return err
			}
			defer closeResolver()

			mod, err := resolver.ResolveOne(cmd.Context(), moduleID)
			if err != nil {
				return err
			}
			if mod == nil || mod.ABI == nil {
				return fmt.Errorf("module %s has no ABI", moduleID)
			}

			var v any = mod.ABI
			if function != "" {
				fn := mod.ABI.Function(function)
				if fn == nil {
					id, _ := modcache.CanonicalID(moduleID)
					return fmt.Errorf("could not find function ABI for '%s::%s'", id, function)
				}
				v = fn
			}

			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			data = pretty.Pretty(data)
			if color {
				data = pretty.Color(data, nil)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&color, "color", false, "colorize the output")
	return cmd
}
