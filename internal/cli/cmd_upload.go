package cli

import (
	"context"
	"fmt"
	"path/filepath"

	flag "github.com/spf13/pflag"
)

// UploadCmd returns the upload command.
func UploadCmd(env *Env) *Command {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	name := fs.String("name", "", "File name to store under instead of the local one (extension included)")

	const usage = "upload <file> [--name <name>]"

	return &Command{
		Flags: fs,
		Usage: usage,
		Short: "Store an image, prints its URL",
		Long: `Validate an image and store it in the assets directory under a
collision-free name. Prints the URL to put in a record's image field.
Accepted types: png, jpg, gif, webp and svg (scripts, event handlers and
external references are rejected), narrowed by allowed_asset_types.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: usage: cms %s", errMissingArgs, usage)
			}

			data, err := readInput(o, env.Config.EffectiveCwd, args[0])
			if err != nil {
				return err
			}

			filename := *name
			if filename == "" {
				filename = filepath.Base(args[0])
			}

			url, err := env.Service.IngestAsset(ctx, data, filename)
			if err != nil {
				return err
			}

			o.Println(url)

			return nil
		},
	}
}
