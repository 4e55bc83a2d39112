package cli

import (
	"context"
	"slices"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sitecms/internal/cms"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *cms.Config) *Command {
	fs := flag.NewFlagSet("print-config", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the merged settings as a config file instead")

	return &Command{
		Flags: fs,
		Usage: "print-config [--json]",
		Short: "Show resolved configuration",
		Long: `Display the effective configuration and which files it was loaded from.
With --json, print the merged settings in config file form, ready to be
saved as .cms.json.`,
		Exec: func(_ context.Context, io *IO, _ []string) error {
			if *asJSON {
				text, err := cms.FormatConfig(*cfg)
				if err != nil {
					return err
				}

				io.Println(text)

				return nil
			}

			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *cms.Config) error {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("document=" + cfg.DocumentAbs)
	io.Println("articles_dir=" + cfg.ArticlesDirAbs)
	io.Println("assets_dir=" + cfg.AssetsDirAbs)
	io.Println("assets_url_prefix=" + cfg.AssetsURLPrefix)

	if len(cfg.AllowedAssetTypes) > 0 {
		io.Println("allowed_asset_types=" + strings.Join(cfg.AllowedAssetTypes, ","))
	}

	kinds := make([]string, 0, len(cfg.Collections))
	for kind := range cfg.Collections {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	for _, kind := range kinds {
		io.Println("collections." + kind + "=" + cfg.Collections[kind])
	}

	io.Println("lock=" + strconv.FormatBool(!cfg.LockingDisabled))
	io.Println("lock_timeout=" + cfg.LockTimeoutDur.String())
	io.Println("log_level=" + cfg.LogLevelParsed.String())
	io.Println("indent=" + strconv.Itoa(cfg.Indent))

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
