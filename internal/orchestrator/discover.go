package orchestrator

import (
	"context"
	"fmt"

	"github.com/amishk599/jobsync/internal/discovery"
	"github.com/amishk599/jobsync/internal/model"
)

type probeTask struct {
	prober    Prober
	candidate model.CandidateCompany
}

// discover seeds candidate slugs, probes every pending and added candidate
// one at a time, then prunes long-dead candidates.
func (o *Orchestrator) discover(ctx context.Context, st *runState) error {
	var probers []Prober
	if st.run.Source != "" {
		probers = append(probers, o.probers[st.run.Source])
	} else {
		for _, name := range o.proberOrder {
			probers = append(probers, o.probers[name])
		}
	}
	if len(probers) == 0 {
		return st.logf(ctx, model.LogWarn, "no discovery providers configured")
	}

	var tasks []probeTask
	for _, p := range probers {
		seeded, err := o.seedCandidates(ctx, p.Source())
		if err != nil {
			return err
		}
		if seeded > 0 {
			if err := st.logf(ctx, model.LogInfo, "%s: seeded %d candidate slugs", p.Source(), seeded); err != nil {
				return err
			}
		}
		for _, status := range []model.CompanyStatus{model.CompanyPending, model.CompanyAdded} {
			cs, err := o.store.ListCandidates(ctx, model.CandidateQuery{Source: p.Source(), Status: status})
			if err != nil {
				return fmt.Errorf("listing %s %s candidates: %w", status, p.Source(), err)
			}
			for _, c := range cs {
				tasks = append(tasks, probeTask{prober: p, candidate: c})
			}
		}
	}
	if err := st.addTotal(ctx, len(tasks)); err != nil {
		return err
	}

	for _, t := range tasks {
		if err := o.probeCandidate(ctx, st, t.prober, t.candidate); err != nil {
			return err
		}
	}

	cutoff := o.now().Add(-o.cfg.CandidateRetention)
	n, err := o.store.PruneCandidates(ctx, model.CompanyNotFound, cutoff)
	if err != nil {
		return fmt.Errorf("pruning not_found candidates: %w", err)
	}
	if n > 0 {
		return st.logf(ctx, model.LogInfo, "pruned %d not_found candidates last updated before %s", n, cutoff.UTC().Format("2006-01-02"))
	}
	return nil
}

func (o *Orchestrator) seedCandidates(ctx context.Context, source string) (int, error) {
	if len(o.cfg.SeedNames) == 0 {
		return 0, nil
	}
	known, err := o.store.KnownSlugs(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("loading known %s slugs: %w", source, err)
	}
	if known == nil {
		known = make(map[string]bool)
	}
	for _, ref := range o.cfg.Companies[source] {
		known[ref.Slug] = true
	}

	seeded := 0
	for _, c := range discovery.CandidateSlugs(o.cfg.SeedNames, known) {
		ok, err := o.store.AddCandidate(ctx, model.CandidateCompany{
			Source: source,
			Slug:   c.Slug,
			Name:   c.Name,
			Status: model.CompanyPending,
		})
		if err != nil {
			return seeded, fmt.Errorf("seeding %s/%s: %w", source, c.Slug, err)
		}
		if ok {
			seeded++
		}
	}
	return seeded, nil
}

// probeCandidate applies one probe result to a candidate. Pending
// candidates become added or not_found; added ones are demoted only when the
// provider confirms the board is gone.
func (o *Orchestrator) probeCandidate(ctx context.Context, st *runState, p Prober, c model.CandidateCompany) error {
	res, err := p.Probe(ctx, c.Slug)
	if err != nil {
		return err
	}

	probedAt := o.now().UTC()
	c.ProbedAt = &probedAt
	wasAdded := c.Status == model.CompanyAdded
	name := p.Source() + "/" + c.Slug

	var delta model.RunStats
	level := model.LogInfo
	var msg string

	switch res.Outcome {
	case discovery.OutcomeSuccess:
		c.RemoteJobs = res.RemoteJobs
		c.SuggestedCategoryID = res.SuggestedCategoryID
		if wasAdded {
			msg = fmt.Sprintf("%s still active: %d of %d postings remote", name, res.RemoteJobs, res.Total)
		} else {
			c.Status = model.CompanyAdded
			delta.CompaniesAdded = 1
			msg = fmt.Sprintf("%s added: %d of %d postings remote", name, res.RemoteJobs, res.Total)
		}
	case discovery.OutcomeNoRemote:
		c.RemoteJobs = 0
		if !wasAdded {
			c.Status = model.CompanyNotFound
		}
		msg = fmt.Sprintf("%s: none of %d postings remote", name, res.Total)
	case discovery.OutcomeNotFound:
		c.Status = model.CompanyNotFound
		c.RemoteJobs = 0
		if wasAdded {
			delta.CompaniesDeleted = 1
			msg = fmt.Sprintf("%s removed: board no longer exists", name)
		} else {
			msg = fmt.Sprintf("%s: no such board", name)
		}
	default:
		level = model.LogWarn
		if wasAdded {
			msg = fmt.Sprintf("%s probe failed, keeping company: %v", name, res.Err)
		} else {
			c.Status = model.CompanyNotFound
			msg = fmt.Sprintf("%s probe failed, treated as not found: %v", name, res.Err)
		}
	}

	if err := o.store.UpdateCandidate(ctx, c); err != nil {
		return fmt.Errorf("updating candidate %s: %w", name, err)
	}
	return st.unitDone(ctx, delta, level, msg)
}
