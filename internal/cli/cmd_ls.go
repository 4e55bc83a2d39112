package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/sitecms/internal/content"
)

// kindArg resolves args[0] to a registered kind and checks the argument
// count.
func kindArg(env *Env, args []string, want int, usage string) (content.Kind, *content.Schema, error) {
	if len(args) < want {
		return "", nil, fmt.Errorf("%w: usage: cms %s", errMissingArgs, usage)
	}

	if len(args) > want {
		return "", nil, fmt.Errorf("%w: %v", errTooManyArgs, args[want:])
	}

	kind := content.Kind(args[0])

	schema, err := env.Service.Registry().Schema(kind)
	if err != nil {
		return "", nil, err
	}

	return kind, schema, nil
}

// KindsCmd returns the kinds command.
func KindsCmd(env *Env) *Command {
	return &Command{
		Flags: flag.NewFlagSet("kinds", flag.ContinueOnError),
		Usage: "kinds",
		Short: "List content kinds and their fields",
		Long:  "List every content kind with its storage, id field and fields in stored order. Required fields are marked.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %v", errTooManyArgs, args)
			}

			reg := env.Service.Registry()

			for _, kind := range reg.Kinds() {
				schema, err := reg.Schema(kind)
				if err != nil {
					return err
				}

				o.Println(schema.String())
			}

			return nil
		},
	}
}

// LsCmd returns the ls command.
func LsCmd(env *Env) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	format := addOutputFlag(fs)

	const usage = "ls <kind> [-o json|yaml]"

	return &Command{
		Flags: fs,
		Usage: usage,
		Short: "List records of a kind",
		Long: `List every record of a kind. Catalog records keep the order of the
document; articles are sorted by slug and include their body.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := checkFormat(*format); err != nil {
				return err
			}

			kind, schema, err := kindArg(env, args, 1, usage)
			if err != nil {
				return err
			}

			recs, err := env.Service.Repository().List(ctx, kind)
			if err != nil {
				return err
			}

			out := make([]orderedRecord, len(recs))
			for i, rec := range recs {
				out[i] = orderRecord(schema, rec)
			}

			return writeValue(o, *format, out)
		},
	}
}

// ShowCmd returns the show command.
func ShowCmd(env *Env) *Command {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	format := addOutputFlag(fs)

	const usage = "show <kind> <id> [-o json|yaml]"

	return &Command{
		Flags: fs,
		Usage: usage,
		Short: "Show one record",
		Long:  "Show one record. Catalog records are addressed by numeric id, articles by slug.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := checkFormat(*format); err != nil {
				return err
			}

			kind, schema, err := kindArg(env, args, 2, usage)
			if err != nil {
				return err
			}

			rec, err := env.Service.Repository().Get(ctx, kind, args[1])
			if err != nil {
				return err
			}

			return writeValue(o, *format, orderRecord(schema, rec))
		},
	}
}
