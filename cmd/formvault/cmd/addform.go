package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/authz"
	"github.com/wesm/formvault/internal/query"
	"github.com/wesm/formvault/internal/store"
)

var (
	addFormAlias       string
	addFormDescription string
	addFormFields      []string
	addFormUnpublished bool
	addFormPublishUp   string
	addFormPublishDown string
)

var addFormCmd = &cobra.Command{
	Use:   "add-form <name>",
	Short: "Create a form",
	Long: `Create a form with the given fields. The alias is derived from the name
unless --alias is given, and must be unique.

Examples:
  formvault add-form "Contact us" --field Email --field Message
  formvault add-form Newsletter --alias news --publish-down 2025-01-01`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		viewer, err := currentViewer()
		if err != nil {
			return err
		}
		up, err := parseDateFlag("publish-up", addFormPublishUp)
		if err != nil {
			return err
		}
		down, err := parseDateFlag("publish-down", addFormPublishDown)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.enforcer.IsGranted(viewer, authz.FormsCreate)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s may not create forms", viewer.Name)
		}

		id, alias, err := a.store.CreateForm(store.FormInput{
			Name:        args[0],
			Alias:       addFormAlias,
			Description: addFormDescription,
			IsPublished: !addFormUnpublished,
			PublishUp:   up,
			PublishDown: down,
			CreatedBy:   viewer.ID,
		})
		if errors.Is(err, store.ErrAliasTaken) {
			return fmt.Errorf("alias %q is already used by another form", addFormAlias)
		}
		if err != nil {
			return fmt.Errorf("create form: %w", err)
		}
		for _, label := range addFormFields {
			if _, err := a.store.AddField(id, label, ""); err != nil {
				return fmt.Errorf("add field %q: %w", label, err)
			}
		}

		fmt.Printf("Created form %d (alias %s) with %d fields\n", id, alias, len(addFormFields))
		return nil
	},
}

var addSubmissionCmd = &cobra.Command{
	Use:   "add-submission <form-id> [alias=value...]",
	Short: "Record a submission for a form",
	Long: `Record a submission with the given field values, keyed by field alias.
Without values on an interactive terminal, each field is prompted for.

Example:
  formvault add-submission 3 email=alice@example.com message="Hello there"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formID, err := parseFormID(args[0])
		if err != nil {
			return err
		}
		values, err := parseValues(args[1:])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(values) == 0 && stdinIsTerminal() {
			form, err := a.engine.GetForm(cmd.Context(), formID)
			if err != nil {
				return err
			}
			if form == nil {
				return fmt.Errorf("form %d not found", formID)
			}
			if values, err = promptValues(cmd.Context(), form.Fields); err != nil {
				return err
			}
		}

		id, err := a.store.AddSubmission(store.SubmissionInput{FormID: formID, Values: values})
		if errors.Is(err, store.ErrUnknownField) {
			return fmt.Errorf("form %d: %w", formID, err)
		}
		if err != nil {
			return fmt.Errorf("add submission: %w", err)
		}
		fmt.Printf("Recorded submission %d\n", id)
		return nil
	},
}

// parseValues parses alias=value pairs.
func parseValues(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("value %q: want alias=value", p)
		}
		values[k] = v
	}
	return values, nil
}

// promptValues asks for each field in turn. Empty answers are left out.
func promptValues(ctx context.Context, fields []query.Field) (map[string]string, error) {
	answers := make([]string, len(fields))
	inputs := make([]huh.Field, len(fields))
	for i, f := range fields {
		inputs[i] = huh.NewInput().Title(f.Label).Description(f.Alias).Value(&answers[i])
	}
	if err := huh.NewForm(huh.NewGroup(inputs...)).RunWithContext(ctx); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(fields))
	for i, f := range fields {
		if answers[i] != "" {
			values[f.Alias] = answers[i]
		}
	}
	return values, nil
}

func parseDateFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: expected YYYY-MM-DD", name, v)
	}
	return &t, nil
}

var searchCommandsCmd = &cobra.Command{
	Use:   "search-commands",
	Short: "List the search commands understood by forms",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cmds := a.lister.Commands()
		rows := make([][]string, 0, len(cmds))
		for _, c := range cmds {
			vals := append([]string(nil), c.Values...)
			sort.Strings(vals)
			rows = append(rows, []string{c.Name, strings.Join(vals, ", ")})
		}
		writeTable(cmd.OutOrStdout(), stdoutIsTerminal(), []string{"COMMAND", "VALUES"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addFormCmd)
	rootCmd.AddCommand(addSubmissionCmd)
	rootCmd.AddCommand(searchCommandsCmd)
	addFormCmd.Flags().StringVar(&addFormAlias, "alias", "", "form alias (default: derived from name)")
	addFormCmd.Flags().StringVar(&addFormDescription, "description", "", "form description")
	addFormCmd.Flags().StringArrayVar(&addFormFields, "field", nil, "field label (repeatable)")
	addFormCmd.Flags().BoolVar(&addFormUnpublished, "unpublished", false, "create the form unpublished")
	addFormCmd.Flags().StringVar(&addFormPublishUp, "publish-up", "", "publish from date (YYYY-MM-DD)")
	addFormCmd.Flags().StringVar(&addFormPublishDown, "publish-down", "", "publish until date (YYYY-MM-DD)")
}
