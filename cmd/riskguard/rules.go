// RiskGuard - Behavioral risk decisions for subscriber events.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskguard/internal/condition"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/repository"
	"github.com/opensource-finance/riskguard/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and manage risk rules",
	}
	cmd.AddCommand(newRulesValidateCmd(), newRulesListCmd(), newRulesImportCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <condition>",
		Short: "Check that a condition parses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateCondition(args[0], cmd.OutOrStdout())
		},
	}
}

func validateCondition(cond string, w io.Writer) error {
	if err := rules.Validate(cond); err != nil {
		var syn *condition.SyntaxError
		if errors.As(err, &syn) {
			fmt.Fprintf(w, "%s\n%*s^\n", cond, syn.Pos, "")
		}
		return err
	}
	fmt.Fprintln(w, "ok")
	return nil
}

func newRulesListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules stored in the configured repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return fmt.Errorf("initialize repository: %w", err)
			}
			defer repo.Close()
			return listRules(cmd.Context(), repo, activeOnly, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules, in fetch order")
	return cmd
}

func listRules(ctx context.Context, repo domain.Repository, activeOnly bool, w io.Writer) error {
	var (
		list []*domain.RiskRule
		err  error
	)
	if activeOnly {
		list, err = repo.ListActiveRules(ctx)
	} else {
		list, err = repo.ListRules(ctx)
	}
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func newRulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <rules.json>",
		Short: "Store rules from a JSON file, preserving file order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleSet, err := readRules(args[0])
			if err != nil {
				return err
			}
			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return fmt.Errorf("initialize repository: %w", err)
			}
			defer repo.Close()
			n, err := importRules(cmd.Context(), repo, ruleSet, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", n)
			return nil
		},
	}
}

// importRules validates and stores ruleSet. Creation times are spaced one
// millisecond apart from base so fetch order follows file order.
func importRules(ctx context.Context, repo domain.Repository, ruleSet []*domain.RiskRule, base time.Time) (int, error) {
	for i, r := range ruleSet {
		if err := rules.ValidateRule(r); err != nil {
			return i, fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	for i, r := range ruleSet {
		r.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := repo.SaveRule(ctx, r); err != nil {
			return i, fmt.Errorf("save rule %s: %w", r.ID, err)
		}
	}
	return len(ruleSet), nil
}
