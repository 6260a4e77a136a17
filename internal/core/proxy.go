package core

import (
	"context"
	"fmt"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/security"
)

// CreateProxy places a proxy to targetID in folderID: a live proxy for a
// live document, a version proxy for a version.
func (s *Session) CreateProxy(ctx context.Context, targetID, folderID string) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	target, err := s.src.Get(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}
	if target.IsProxy() {
		return nil, errs.Conflict("cannot create a proxy to proxy %s", targetID).With("id", targetID)
	}
	if err := s.checker.Check(ctx, target, model.Read); err != nil {
		return nil, err
	}
	p, err := s.createProxy(ctx, target, folderID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, p)
}

func (s *Session) createProxy(ctx context.Context, target *model.State, folderID string) (*model.State, error) {
	folder, err := s.src.Get(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}
	if err := s.checkContainer(ctx, folder); err != nil {
		return nil, err
	}
	name, err := s.freeName(ctx, folderID, target.Name, "")
	if err != nil {
		return nil, err
	}
	p := &model.State{
		ID:       s.repo.ids.Generate(),
		Kind:     model.KindProxy,
		Type:     target.Type,
		ParentID: folderID,
		Name:     name,
		SeriesID: target.SeriesID,
		TargetID: target.ID,
	}
	s.insert(p)
	s.repo.emit(ctx, event.ProxyCreated, p.ID, s.principal, map[string]string{
		"target": target.ID,
		"kind":   target.Kind.String(),
	})
	return p, nil
}

// PublishDocument publishes id into folderID as a version proxy. A live
// document that is checked out, or was never versioned, is checked in as a
// minor version first. With overwrite, a version proxy of the same series
// already in the folder is retargeted and keeps its id; live proxies are
// never retargeted.
func (s *Session) PublishDocument(ctx context.Context, id, folderID string, overwrite bool) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	if err := s.checker.Check(ctx, st, model.Read); err != nil {
		return nil, err
	}
	if st.IsProxy() {
		if st, err = s.src.Get(ctx, st.TargetID); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
	}
	version, err := s.publishedVersion(ctx, st)
	if err != nil {
		return nil, err
	}

	var proxy *model.State
	if overwrite {
		existing, err := s.findProxies(ctx, queryir.ColumnSeriesID, version.SeriesID)
		if err != nil {
			return nil, err
		}
		for _, p := range existing {
			if p.ParentID != folderID {
				continue
			}
			// Live proxies of the series are left alone.
			current, err := s.src.Get(ctx, p.TargetID)
			if err != nil && !errs.IsNotFound(err) {
				return nil, fmt.Errorf("publish: %w", err)
			}
			if current == nil || !current.IsVersion() {
				continue
			}
			if err := s.checker.Check(ctx, p, security.WriteProperties); err != nil {
				return nil, err
			}
			proxy = p.Clone()
			proxy.TargetID = version.ID
			s.write(proxy)
			break
		}
	}
	if proxy == nil {
		if proxy, err = s.createProxy(ctx, version, folderID); err != nil {
			return nil, err
		}
	}
	s.repo.emit(ctx, event.DocumentPublished, proxy.ID, s.principal, map[string]string{
		"source":  id,
		"version": version.ID,
		"folder":  folderID,
	})
	return s.view(ctx, proxy)
}

// publishedVersion returns the version to publish for st.
func (s *Session) publishedVersion(ctx context.Context, st *model.State) (*model.State, error) {
	if st.IsVersion() {
		return st, nil
	}
	if st.CheckedIn && st.BaseVersionID != "" {
		v, err := s.src.Get(ctx, st.BaseVersionID)
		if err == nil {
			return v, nil
		}
		if !errs.IsNotFound(err) {
			return nil, err
		}
	}
	live := st.Clone()
	if err := s.checkVersionable(live); err != nil {
		return nil, err
	}
	if err := s.checker.Check(ctx, live, security.Version); err != nil {
		return nil, err
	}
	return s.checkIn(ctx, live, VersionMinor, "")
}

// GetProxies returns the proxies of the version series of id the
// principal may browse. A non-empty folderID restricts them to that
// folder.
func (s *Session) GetProxies(ctx context.Context, id, folderID string) ([]*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get proxies: %w", err)
	}
	proxies, err := s.findProxies(ctx, queryir.ColumnSeriesID, st.SeriesID)
	if err != nil {
		return nil, err
	}
	var out []*model.State
	for _, p := range proxies {
		if folderID != "" && p.ParentID != folderID {
			continue
		}
		ok, err := s.checker.CanBrowse(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := s.view(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// findProxies returns the proxies whose column equals value, by id.
func (s *Session) findProxies(ctx context.Context, column, value string) ([]*model.State, error) {
	proxies, err := s.src.Find(ctx, &queryir.Select{
		Kinds: []model.Kind{model.KindProxy},
		Where: []queryir.Condition{
			&queryir.Equals{Field: queryir.Field{Column: column}, Value: model.String(value)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find proxies by %s: %w", column, err)
	}
	return proxies, nil
}
