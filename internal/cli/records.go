package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/normstore/internal/config"
	"github.com/roach88/normstore/internal/entity"
	"github.com/roach88/normstore/internal/record"
)

// ListResult is the JSON payload of list.
type ListResult struct {
	Count   int             `json:"count"`
	Records []record.Record `json:"records"`
}

// MutationResult is the JSON payload of every command that changes the
// collection.
type MutationResult struct {
	Operation string   `json:"operation"`
	Affected  int      `json:"affected"`
	Total     int      `json:"total"`
	Changed   bool     `json:"changed"`
	IDs       []string `json:"ids,omitempty"`
}

// PurgeResult is the JSON payload of purge.
type PurgeResult struct {
	Pattern string   `json:"pattern"`
	Deleted []string `json:"deleted"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print records in collection order",
		Args:  cobra.NoArgs,
		Example: `  normstore list
  normstore list --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				records := s.ents.SelectAll(s.State())
				if records == nil {
					records = []record.Record{}
				}
				if formatter.Format == "json" {
					return formatter.Success(ListResult{Count: len(records), Records: records})
				}
				if len(records) == 0 {
					return formatter.Success("(no records)")
				}
				lines := make([]string, 0, len(records))
				for _, r := range records {
					line, err := encodeLine(r)
					if err != nil {
						return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
					}
					lines = append(lines, line)
				}
				return formatter.Success(strings.Join(lines, "\n"))
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			id := norm.NFC.String(args[0])
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				r, ok := s.ents.SelectByID(s.State(), id)
				if !ok {
					return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("record %q not found", id), nil)
				}
				if formatter.Format == "json" {
					return formatter.Success(r)
				}
				line, err := encodeLine(r)
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
				}
				return formatter.Success(line)
			})
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <json>...",
		Short: "Add records; records whose id already exists are ignored",
		Long: `Add one or more JSON records to the collection.

Records without an "id" get a generated UUIDv7. A record whose id is
already present is left untouched.`,
		Args: cobra.MinimumNArgs(1),
		Example: `  normstore add '{"id":"a","title":"first"}'
  normstore add '{"title":"gets a generated id"}' '{"id":"b"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			records, err := parseRecords(args, rootOpts.idGenerator())
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
			}
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				before, after := s.Apply(func(st *record.State) *record.State {
					if len(records) == 1 {
						return s.ents.AddOne(st, records[0])
					}
					return s.ents.AddMany(st, records)
				})
				added := make([]string, 0, len(records))
				for _, r := range records {
					id := record.ID(r)
					if !before.Has(id) && after.Has(id) && !contains(added, id) {
						added = append(added, id)
					}
				}
				return reportMutation(formatter, MutationResult{
					Operation: "add",
					Affected:  len(added),
					Total:     after.Len(),
					Changed:   before != after,
					IDs:       added,
				}, "added")
			})
		},
	}
}

// NewUpsertCommand creates the upsert command.
func NewUpsertCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "upsert <json>...",
		Short:   "Insert records or replace existing ones wholesale",
		Args:    cobra.MinimumNArgs(1),
		Example: `  normstore upsert '{"id":"a","title":"replaced"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			records, err := parseRecords(args, rootOpts.idGenerator())
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
			}
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				before, after := s.Apply(func(st *record.State) *record.State {
					if len(records) == 1 {
						return s.ents.UpsertOne(st, records[0])
					}
					return s.ents.UpsertMany(st, records)
				})
				return reportMutation(formatter, MutationResult{
					Operation: "upsert",
					Affected:  len(uniqueIDs(records)),
					Total:     after.Len(),
					Changed:   before != after,
					IDs:       uniqueIDs(records),
				}, "upserted")
			})
		},
	}
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	File string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update (<id> <json> | --file <path>)",
		Short: "Shallow-merge changes into existing records",
		Long: `Merge the fields of a JSON object into the record with the given id.

With --file, apply a YAML or JSON list of {id, changes} entries in order.
Ids that are not present are ignored. If the changes set a new "id", the
record moves to that id and keeps its position.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.File != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		Example: `  normstore update a '{"done":true}'
  normstore update --file changes.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML/JSON list of {id, changes}")

	return cmd
}

func runUpdate(cmd *cobra.Command, args []string, opts *UpdateOptions) error {
	formatter := opts.formatter(cmd)

	var updates []entity.Update[record.Record, string]
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("read %s: %v", opts.File, err), nil)
		}
		updates, err = record.DecodeUpdates(data)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
		}
	} else {
		changes, err := record.Parse([]byte(args[1]))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
		}
		if err := record.CheckChanges(changes); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
		}
		updates = []entity.Update[record.Record, string]{{
			ID:      norm.NFC.String(args[0]),
			Changes: record.Merge(changes),
		}}
	}

	return withSession(cmd, opts.RootOptions, formatter, func(s *session) error {
		before, after := s.Apply(func(st *record.State) *record.State {
			if len(updates) == 1 {
				return s.ents.UpdateOne(st, updates[0])
			}
			return s.ents.UpdateMany(st, updates)
		})
		var matched []string
		for _, u := range updates {
			if u.Changes != nil && before.Has(u.ID) && !contains(matched, u.ID) {
				matched = append(matched, u.ID)
			}
		}
		if before == after {
			matched = nil
		}
		return reportMutation(formatter, MutationResult{
			Operation: "update",
			Affected:  len(matched),
			Total:     after.Len(),
			Changed:   before != after,
			IDs:       matched,
		}, "updated")
	})
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove records by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			ids := make([]string, len(args))
			for i, a := range args {
				ids[i] = norm.NFC.String(a)
			}
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				before, after := s.Apply(func(st *record.State) *record.State {
					if len(ids) == 1 {
						return s.ents.RemoveOne(st, ids[0])
					}
					return s.ents.RemoveMany(st, ids)
				})
				var removed []string
				for _, id := range ids {
					if before.Has(id) && !after.Has(id) && !contains(removed, id) {
						removed = append(removed, id)
					}
				}
				return reportMutation(formatter, MutationResult{
					Operation: "remove",
					Affected:  len(removed),
					Total:     after.Len(),
					Changed:   before != after,
					IDs:       removed,
				}, "removed")
			})
		},
	}
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <file>",
		Short:   "Replace the whole collection with the records in a YAML/JSON file",
		Args:    cobra.ExactArgs(1),
		Example: `  normstore set records.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("read %s: %v", args[0], err), nil)
			}
			records, err := record.DecodeList(data)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
			}
			gen := rootOpts.idGenerator()
			for i, r := range records {
				records[i] = record.EnsureID(r, gen)
			}
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				before, after := s.Apply(func(st *record.State) *record.State {
					return s.ents.SetAll(st, records)
				})
				return reportMutation(formatter, MutationResult{
					Operation: "set",
					Affected:  after.Len(),
					Total:     after.Len(),
					Changed:   before != after,
				}, "set")
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			return withSession(cmd, rootOpts, formatter, func(s *session) error {
				before, after := s.Apply(s.ents.RemoveAll)
				return reportMutation(formatter, MutationResult{
					Operation: "clear",
					Affected:  before.Len(),
					Total:     after.Len(),
					Changed:   before != after,
				}, "cleared")
			})
		},
	}
}

// SortOptions holds flags for the sort command.
type SortOptions struct {
	*RootOptions
	Field string
	Order string
}

// NewSortCommand creates the sort command.
func NewSortCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SortOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sort",
		Short: "Re-sort the collection",
		Long: `Re-sort the stored collection by a field, or by the configured sort
when --field is not given. Without any sort field records are ordered
newest first by a numeric "createdAt"; records without one keep their
relative order.`,
		Args: cobra.NoArgs,
		Example: `  normstore sort --field title
  normstore sort --field priority --order desc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			comparer, err := record.FieldComparer(opts.Field, opts.Order)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
			}
			return withSession(cmd, opts.RootOptions, formatter, func(s *session) error {
				before, after := s.Apply(func(st *record.State) *record.State {
					return s.ents.ReSort(st, comparer)
				})
				return reportMutation(formatter, MutationResult{
					Operation: "sort",
					Affected:  after.Len(),
					Total:     after.Len(),
					Changed:   before != after,
				}, "sorted")
			})
		},
	}

	cmd.Flags().StringVar(&opts.Field, "field", "", "record field to sort by")
	cmd.Flags().StringVar(&opts.Order, "order", record.OrderAsc, "sort order (asc|desc)")

	return cmd
}

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Pattern string
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge --pattern <glob>",
		Short: "Delete stored entries whose key matches a glob",
		Long: `Run a cleanup pass over the configured store and delete every entry
whose key matches the glob (path.Match syntax). The collection's own key
is deleted too if it matches.`,
		Args:    cobra.NoArgs,
		Example: `  normstore purge --pattern 'draft-*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			if _, err := path.Match(opts.Pattern, ""); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("pattern %q: %v", opts.Pattern, err), nil)
			}
			return withSession(cmd, opts.RootOptions, formatter, func(s *session) error {
				deleted, err := s.adapter.Purge(cmd.Context(), config.MatchKeys(opts.Pattern))
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeBackend, err.Error(), nil)
				}
				if deleted == nil {
					deleted = []string{}
				}
				if formatter.Format == "json" {
					return formatter.Success(PurgeResult{Pattern: opts.Pattern, Deleted: deleted})
				}
				lines := []string{fmt.Sprintf("purged %d entr%s", len(deleted), plural(len(deleted), "y", "ies"))}
				for _, k := range deleted {
					lines = append(lines, "  "+k)
				}
				return formatter.Success(strings.Join(lines, "\n"))
			})
		},
	}

	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "glob over stored keys")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

func reportMutation(formatter *OutputFormatter, res MutationResult, verb string) error {
	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	if !res.Changed {
		return formatter.Success(fmt.Sprintf("no change (%d total)", res.Total))
	}
	return formatter.Success(fmt.Sprintf("%s %d record%s (%d total)", verb, res.Affected, plural(res.Affected, "", "s"), res.Total))
}

// parseRecords parses each argument as a JSON object and assigns generated
// ids where missing.
func parseRecords(args []string, gen record.IDGenerator) ([]record.Record, error) {
	out := make([]record.Record, 0, len(args))
	for i, a := range args {
		r, err := record.Parse([]byte(a))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out = append(out, record.EnsureID(r, gen))
	}
	return out, nil
}

// encodeLine renders r as one line of compact JSON with sorted keys.
func encodeLine(r record.Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(data), nil
}

func uniqueIDs(records []record.Record) []string {
	var ids []string
	for _, r := range records {
		if id := record.ID(r); !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
