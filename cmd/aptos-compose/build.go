package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/batch"
)

type buildOutput struct {
	Calls      int    `json:"calls"`
	Signers    uint16 `json:"signers"`
	ScriptHex  string `json:"script_hex"`
	PayloadHex string `json:"payload_hex"`
}

func newBuildCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "build <batch.yaml>",
		Short: "Compose a batch document into a script payload",
		Long: `Reads a batch document (YAML or JSON), fetches the modules it calls and
composes the calls into a single script transaction payload.

Without --out the payload is printed as JSON. With --out the BCS encoded
TransactionPayload is written to the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, err := batch.Load(args[0])
			if err != nil {
				return err
			}
			wasm, err := readWASM()
			if err != nil {
				return err
			}
			resolver, closeResolver, err := openResolver()
			if err != nil {
				return err
			}
			defer closeResolver()

			r, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer r.Close(ctx)

			sc, err := composer.NewScriptComposer(ctx, r, wasm, &composer.Config{
				SignerCount: doc.RequiredSigners(),
				Logger:      logger.Named("composer"),
			})
			if err != nil {
				return err
			}
			defer sc.Close(ctx)

			payload, err := batch.Compose(ctx, sc, resolver, doc)
			if err != nil {
				return err
			}
			full, err := payload.Bytes()
			if err != nil {
				return err
			}
			logger.Info("composed script",
				zap.Int("calls", len(doc.Calls)),
				zap.Int("size", len(full)),
			)

			if out != "" {
				return os.WriteFile(out, full, 0o644)
			}
			script, err := bcs.Serialize(&payload.Script)
			if err != nil {
				return err
			}
			data, err := json.Marshal(buildOutput{
				Calls:      len(doc.Calls),
				Signers:    doc.RequiredSigners(),
				ScriptHex:  "0x" + hex.EncodeToString(script),
				PayloadHex: "0x" + hex.EncodeToString(full),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(pretty.Pretty(data)))
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the BCS payload to this file")
	return cmd
}
