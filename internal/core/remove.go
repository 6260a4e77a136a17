package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/security"
)

// RemoveDocument removes a document, version or proxy.
//
// Removing a live document removes its subtree and the live proxies
// targeting any removed document. Once the transaction commits, versions
// left without a live document or proxy are removed asynchronously.
// A version cannot be removed while a proxy targets it or a live document
// has it as base version.
func (s *Session) RemoveDocument(ctx context.Context, id string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if id == s.repo.rootID {
		return errs.Conflict("the root cannot be removed").With("id", id)
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if err := s.checkRemove(ctx, st); err != nil {
		return err
	}

	switch st.Kind {
	case model.KindVersion:
		if err := s.checkVersionRemovable(ctx, st); err != nil {
			return err
		}
		s.drop(st.ID)
		if err := s.recomputeLatest(ctx, st.SeriesID); err != nil {
			return err
		}
	case model.KindProxy:
		s.drop(st.ID)
	default:
		removed, err := s.removeTree(ctx, st)
		if err != nil {
			return err
		}
		series := make([]string, 0, len(removed))
		for _, r := range removed {
			if r.IsLive() {
				series = append(series, r.SeriesID)
			}
		}
		s.scheduleOrphanCleanup(series)
	}
	s.perms.Purge()
	s.repo.emit(ctx, event.DocumentRemoved, id, s.principal, map[string]string{
		"kind": st.Kind.String(),
	})
	return nil
}

func (s *Session) checkRemove(ctx context.Context, st *model.State) error {
	if err := s.checker.Check(ctx, st, security.Remove); err != nil {
		return err
	}
	if st.ParentID == "" {
		return nil
	}
	parent, err := s.src.Get(ctx, st.ParentID)
	if errs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.checker.Check(ctx, parent, security.RemoveChildren)
}

// checkVersionRemovable fails when a proxy or a live document still
// references v.
func (s *Session) checkVersionRemovable(ctx context.Context, v *model.State) error {
	proxies, err := s.findProxies(ctx, queryir.ColumnTargetID, v.ID)
	if err != nil {
		return err
	}
	if len(proxies) > 0 {
		return errs.Security("version %s is the target of proxy %s", v.ID, proxies[0].ID).
			With("id", v.ID).
			With("proxy", proxies[0].ID)
	}
	live, err := s.src.Get(ctx, v.SeriesID)
	if err != nil && !errs.IsNotFound(err) {
		return err
	}
	if live != nil && live.BaseVersionID == v.ID {
		return errs.Security("version %s is the base version of %s", v.ID, live.ID).
			With("id", v.ID).
			With("live", live.ID)
	}
	return nil
}

// removeTree drops root, its descendants and the live proxies targeting
// any of them. It returns the dropped states.
func (s *Session) removeTree(ctx context.Context, root *model.State) ([]*model.State, error) {
	var removed []*model.State
	queue := []*model.State{root}
	seen := map[string]bool{}
	for len(queue) > 0 {
		st := queue[0]
		queue = queue[1:]
		if seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		children, err := s.src.GetChildren(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("remove children of %s: %w", st.ID, err)
		}
		queue = append(queue, children...)
		if st.IsLive() {
			proxies, err := s.findProxies(ctx, queryir.ColumnTargetID, st.ID)
			if err != nil {
				return nil, err
			}
			queue = append(queue, proxies...)
		}
		removed = append(removed, st)
	}
	for _, st := range removed {
		s.drop(st.ID)
	}
	return removed, nil
}

func (s *Session) scheduleOrphanCleanup(series []string) {
	if len(series) == 0 {
		return
	}
	series = slices.Clone(series)
	repo := s.repo
	s.onCommit(func() {
		repo.submit("orphan-versions", func(ctx context.Context) error {
			_, err := repo.RemoveOrphanVersions(ctx, series)
			return err
		})
	})
}

// RemoveOrphanVersions removes the versions of the given series that have
// no live document and no proxy targeting them. It runs as the system
// principal in its own session and returns the number of removed
// versions.
func (r *Repository) RemoveOrphanVersions(ctx context.Context, series []string) (int, error) {
	s, err := r.NewSession(security.System)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	var removed []*model.State
	for _, seriesID := range series {
		exists, err := s.src.exists(ctx, seriesID)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		versions, err := s.seriesVersions(ctx, seriesID)
		if err != nil {
			return 0, err
		}
		for _, v := range versions {
			proxies, err := s.findProxies(ctx, queryir.ColumnTargetID, v.ID)
			if err != nil {
				return 0, err
			}
			if len(proxies) > 0 {
				continue
			}
			s.drop(v.ID)
			removed = append(removed, v)
		}
		if err := s.recomputeLatest(ctx, seriesID); err != nil {
			return 0, err
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.Commit(ctx); err != nil {
		return 0, fmt.Errorf("remove orphan versions: %w", err)
	}
	for _, v := range removed {
		if r.metrics != nil {
			r.metrics.OrphanVersionsRemoved.Inc()
		}
		r.emit(ctx, event.OrphanVersionRemoved, v.ID, security.System, map[string]string{
			"series": v.SeriesID,
			"label":  v.VersionLabel,
		})
	}
	r.logger.Info("orphan versions removed",
		"count", len(removed),
		"series", len(series))
	return len(removed), nil
}
