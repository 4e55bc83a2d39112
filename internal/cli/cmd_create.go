package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sitecms/internal/cms"
	"github.com/calvinalkan/sitecms/internal/content"
)

const fieldHelp = `
Field values come from, lowest precedence first: --json (a JSON object),
--set key=value (lists are comma-separated, optional strings accept None),
--body-file (articles only) and --interactive prompts.`

// CreateCmd returns the create command.
func CreateCmd(env *Env) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fi := addFieldFlags(fs)

	const usage = "create <kind> [flags]"

	return &Command{
		Flags: fs,
		Usage: usage,
		Short: "Create a record, prints its id",
		Long: `Create a record and print its id. Catalog records without an id get one
more than the highest id in use. An article's id is the slug of its title.
` + fieldHelp,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			kind, schema, err := kindArg(env, args, 1, usage)
			if err != nil {
				return err
			}

			fields, err := fi.collect(o, env.Config.EffectiveCwd, schema, content.Record{})
			if err != nil {
				return err
			}

			rec, err := env.Service.CreateRecord(ctx, kind, fields)
			if err != nil {
				return err
			}

			id, _ := schema.ID(rec)
			o.Println(id)

			return nil
		},
	}
}

// UpdateCmd returns the update command.
func UpdateCmd(env *Env) *Command {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fi := addFieldFlags(fs)
	replace := fs.Bool("replace", false, "Start from an empty record instead of the stored one")

	const usage = "update <kind> <id> [flags]"

	return &Command{
		Flags: fs,
		Usage: usage,
		Short: "Update a record, prints its id",
		Long: `Update a record and print its id, which changes when an article's title
yields a new slug or a catalog record gets a new id. Given values are
applied on top of the stored record unless --replace is set.
` + fieldHelp,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			kind, schema, err := kindArg(env, args, 2, usage)
			if err != nil {
				return err
			}

			id := args[1]
			base := content.Record{}

			if !*replace {
				base, err = env.Service.Repository().Get(ctx, kind, id)
				if err != nil {
					return err
				}

				if schema.Storage == content.StorageFile {
					delete(base, schema.IDField)
				}
			}

			fields, err := fi.collect(o, env.Config.EffectiveCwd, schema, base)
			if err != nil {
				return err
			}

			// A replaced article without a new body keeps the stored one.
			if *replace && fields[cms.BodyField] == "" {
				delete(fields, cms.BodyField)
			}

			rec, err := env.Service.UpdateRecord(ctx, kind, id, fields)
			if err != nil {
				return err
			}

			newID, _ := schema.ID(rec)
			o.Println(newID)

			return nil
		},
	}
}

// DeleteCmd returns the delete command.
func DeleteCmd(env *Env) *Command {
	const usage = "delete <kind> <id>"

	return &Command{
		Flags: flag.NewFlagSet("delete", flag.ContinueOnError),
		Usage: usage,
		Short: "Delete a record",
		Long:  "Delete a record. Catalog records are removed from the document together with one separating comma; articles lose their file.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			kind, _, err := kindArg(env, args, 2, usage)
			if err != nil {
				return err
			}

			if err := env.Service.DeleteRecord(ctx, kind, args[1]); err != nil {
				return err
			}

			o.Println("Deleted", kind, args[1])

			return nil
		},
	}
}
