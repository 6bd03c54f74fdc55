package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"github.com/spf13/pflag"

	"github.com/oarkflow/roleguard"
	"github.com/oarkflow/roleguard/logger"
	"github.com/oarkflow/roleguard/stores"
)

func loadConfig(path string) (*roleguard.Config, error) {
	cfg, err := roleguard.NewConfigLoader().LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: roleguard validate <file>")
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Printf("  Resources: %d\n", len(cfg.Resources))
	return nil
}

func runStats(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: roleguard stats <file>")
	}
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	grants, conditional, restricted, inactive := 0, 0, 0, 0
	conditions := map[roleguard.ConditionType]int{}
	for _, r := range cfg.Roles {
		grants += len(r.Grants)
		for _, g := range r.Grants {
			if g.Condition != nil {
				conditional++
				conditions[g.Condition.Type]++
			}
		}
		if r.Restrictions != nil {
			restricted++
		}
		if !r.IsActive {
			inactive++
		}
	}
	actors := map[string]int{}
	expiring, denies := 0, 0
	for _, a := range cfg.Assignments {
		actors[a.Actor]++
		if a.ExpiresAt != "" {
			expiring++
		}
		denies += len(a.DeniedGrants)
	}

	fmt.Printf("Configuration Statistics\n")
	fmt.Printf("========================\n")
	fmt.Printf("Roles:        %d (%d inactive, %d restricted)\n", len(cfg.Roles), inactive, restricted)
	fmt.Printf("Grants:       %d (%d conditional)\n", grants, conditional)
	types := make([]string, 0, len(conditions))
	for t := range conditions {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-18s %d\n", t, conditions[roleguard.ConditionType(t)])
	}
	fmt.Printf("Assignments:  %d across %d actors (%d expiring, %d deny entries)\n", len(cfg.Assignments), len(actors), expiring, denies)
	fmt.Printf("Departments:  %d\n", len(cfg.Departments))
	fmt.Printf("Batches:      %d\n", len(cfg.Batches))
	fmt.Printf("Resources:    %d\n", len(cfg.Resources))
	return nil
}

func runCheck(args []string) error {
	flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
	var (
		actor, module, action, resource string
		sourceIP, at, sessions          string
		explain                         bool
	)
	flags.StringVar(&actor, "actor", "", "actor identity (required)")
	flags.StringVar(&module, "module", "", "module name (required)")
	flags.StringVar(&action, "action", "", "action name (required)")
	flags.StringVar(&resource, "resource", "", "resource id for owner_only / batch_access conditions")
	flags.StringVar(&sourceIP, "ip", "", "source IP address")
	flags.StringVar(&at, "at", "", "evaluation time (any format github.com/oarkflow/date understands; default now)")
	flags.StringVar(&sessions, "sessions", "", "comma separated session ids active for the actor right now")
	flags.BoolVar(&explain, "explain", false, "print the evaluation trace")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return fmt.Errorf("usage: roleguard check <file> --actor A --module M --action X")
	}
	cfg, err := loadConfig(flags.Arg(0))
	if err != nil {
		return err
	}

	now := time.Now()
	if at != "" {
		if now, err = date.Parse(at); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

	ctx := context.Background()
	roles := stores.NewMemoryRoleStore()
	assignments := stores.NewMemoryAssignmentStore()
	actors := stores.NewMemoryActorStore()
	resources := stores.NewMemoryResourceStore()
	sessionStore := stores.NewMemorySessionStore()
	if err := cfg.Seed(ctx, roleguard.SeedTargets{Roles: roles, Assignments: assignments, Actors: actors, Resources: resources}); err != nil {
		return err
	}
	for _, sid := range splitList(sessions) {
		_ = sessionStore.TouchSession(ctx, actor, sid, now)
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	opts = append(opts,
		roleguard.WithLogger(logger.NewNullLogger()),
		roleguard.WithResourceLookup(resources),
		roleguard.WithActorDirectory(actors),
		roleguard.WithSessionCounter(sessionStore),
	)
	engine, err := roleguard.NewEngine(roles, assignments, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	req := &roleguard.CheckRequest{
		Actor:      actor,
		Module:     module,
		Action:     action,
		ResourceID: resource,
		Context:    roleguard.RequestContext{Now: now, SourceIP: sourceIP, UserAgent: "roleguard-cli"},
	}
	check := engine.Check
	if explain {
		check = engine.Explain
	}
	res, err := check(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
