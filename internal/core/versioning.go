package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/nxdoc/internal/errs"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/security"
)

// VersioningOption selects the version increment of a checkin.
type VersioningOption int

const (
	// VersionNone increments like VersionMinor.
	VersionNone VersioningOption = iota
	// VersionMinor produces major.(minor+1).
	VersionMinor
	// VersionMajor produces (major+1).0.
	VersionMajor
)

// String returns the option name.
func (o VersioningOption) String() string {
	switch o {
	case VersionMajor:
		return "MAJOR"
	case VersionMinor:
		return "MINOR"
	default:
		return "NONE"
	}
}

// RestoreOptions tunes RestoreToVersion.
type RestoreOptions struct {
	// SkipSnapshotCreation restores without first checking in a live
	// document whose properties differ from its base version.
	SkipSnapshotCreation bool

	// CheckOut leaves the restored document checked out.
	CheckOut bool
}

// CheckIn snapshots a live document into a new version and returns the
// version id. The document is left checked in with the version as its
// base.
func (s *Session) CheckIn(ctx context.Context, id string, opt VersioningOption, comment string) (string, error) {
	if err := s.usable(); err != nil {
		return "", err
	}
	st, err := s.load(ctx, id)
	if err != nil {
		return "", fmt.Errorf("check in: %w", err)
	}
	if err := s.checkVersionable(st); err != nil {
		return "", err
	}
	if err := s.checker.Check(ctx, st, security.Version); err != nil {
		return "", err
	}
	if st.CheckedIn {
		if s.cfg.idempotentCheckIn && st.BaseVersionID != "" {
			return st.BaseVersionID, nil
		}
		return "", errs.Conflict("document %s is already checked in", id).With("id", id)
	}
	v, err := s.checkIn(ctx, st, opt, comment)
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

func (s *Session) checkVersionable(st *model.State) error {
	if !st.IsLive() {
		return errs.Conflict("%s %s cannot be versioned", st.Kind, st.ID).With("id", st.ID)
	}
	if !slices.Contains(s.repo.registry.DocumentFacets(st.Type, st.Facets), schema.FacetVersionable) {
		return errs.Conflict("document %s is not versionable", st.ID).With("id", st.ID)
	}
	return nil
}

// checkIn creates the version of st, a private copy of a live document,
// and records both. Latest flags of the series are recomputed.
func (s *Session) checkIn(ctx context.Context, st *model.State, opt VersioningOption, comment string) (*model.State, error) {
	major, minor := st.MajorVersion, st.MinorVersion
	if opt == VersionMajor {
		major, minor = major+1, 0
	} else {
		minor++
	}

	facets := slices.Clone(st.Facets)
	if !slices.Contains(facets, schema.FacetImmutable) {
		facets = append(facets, schema.FacetImmutable)
	}
	v := &model.State{
		ID:             s.repo.ids.Generate(),
		Kind:           model.KindVersion,
		Type:           st.Type,
		Name:           st.Name,
		SeriesID:       st.ID,
		MajorVersion:   major,
		MinorVersion:   minor,
		VersionLabel:   model.VersionLabelFor(major, minor),
		CheckinComment: comment,
		VersionCreated: s.repo.now().UTC(),
		Facets:         facets,
		LifecycleState: st.LifecycleState,
		BinaryText:     st.BinaryText,
		Properties:     st.Properties.Clone(),
	}
	s.insert(v)

	st.CheckedIn = true
	st.MajorVersion, st.MinorVersion = major, minor
	st.BaseVersionID = v.ID
	s.write(st)

	if err := s.recomputeLatest(ctx, st.ID); err != nil {
		return nil, err
	}
	s.repo.emit(ctx, event.DocumentCheckedIn, st.ID, s.principal, map[string]string{
		"version": v.ID,
		"label":   v.VersionLabel,
		"option":  opt.String(),
	})
	return v, nil
}

// seriesVersions returns the versions of a series in label order.
func (s *Session) seriesVersions(ctx context.Context, seriesID string) ([]*model.State, error) {
	versions, err := s.src.Find(ctx, &queryir.Select{
		Kinds: []model.Kind{model.KindVersion},
		Where: []queryir.Condition{
			&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnSeriesID}, Value: model.String(seriesID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find versions of %s: %w", seriesID, err)
	}
	slices.SortFunc(versions, func(a, b *model.State) int {
		return cmp.Or(
			cmp.Compare(a.MajorVersion, b.MajorVersion),
			cmp.Compare(a.MinorVersion, b.MinorVersion),
			a.VersionCreated.Compare(b.VersionCreated),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return versions, nil
}

// recomputeLatest sets IsLatest on the highest version of the series and
// IsLatestMajor on the highest major version, clearing the others.
func (s *Session) recomputeLatest(ctx context.Context, seriesID string) error {
	versions, err := s.seriesVersions(ctx, seriesID)
	if err != nil {
		return err
	}
	latestMajor := -1
	for i, v := range versions {
		if v.MinorVersion == 0 {
			latestMajor = i
		}
	}
	for i, v := range versions {
		latest := i == len(versions)-1
		isMajor := i == latestMajor
		if v.IsLatest == latest && v.IsLatestMajor == isMajor {
			continue
		}
		updated := v.Clone()
		updated.IsLatest = latest
		updated.IsLatestMajor = isMajor
		s.write(updated)
	}
	return nil
}

// CheckOut makes a checked-in document writable again.
func (s *Session) CheckOut(ctx context.Context, id string) error {
	if err := s.usable(); err != nil {
		return err
	}
	st, err := s.load(ctx, id)
	if err != nil {
		return fmt.Errorf("check out: %w", err)
	}
	if err := s.checkVersionable(st); err != nil {
		return err
	}
	if err := s.checker.Check(ctx, st, security.WriteProperties); err != nil {
		return err
	}
	if !st.CheckedIn {
		return errs.Conflict("document %s is already checked out", id).With("id", id)
	}
	st.CheckedIn = false
	s.write(st)
	s.repo.emit(ctx, event.DocumentCheckedOut, id, s.principal, nil)
	return nil
}

// RestoreToVersion replaces the properties of live document id with those
// of versionID, a version of its series. Unless opts skip it, a document
// whose properties differ from its base version is first checked in as a
// minor version. The lifecycle state is kept unless the repository was
// opened WithRestoreLifecycle.
func (s *Session) RestoreToVersion(ctx context.Context, id, versionID string, opts RestoreOptions) (*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if err := s.checkVersionable(st); err != nil {
		return nil, err
	}
	v, err := s.src.Get(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if !v.IsVersion() || v.SeriesID != st.ID {
		return nil, errs.Conflict("%s is not a version of %s", versionID, id).
			With("id", id).
			With("version", versionID)
	}
	if err := s.checker.Check(ctx, st, security.WriteVersion); err != nil {
		return nil, err
	}

	if !opts.SkipSnapshotCreation {
		dirty, err := s.dirty(ctx, st)
		if err != nil {
			return nil, err
		}
		if dirty {
			if _, err := s.checkIn(ctx, st, VersionMinor, ""); err != nil {
				return nil, err
			}
			if st, err = s.load(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	st.Properties = v.Properties.Clone()
	st.BinaryText = v.BinaryText
	st.Facets = slices.DeleteFunc(slices.Clone(v.Facets), func(f string) bool {
		return f == schema.FacetImmutable
	})
	if s.repo.restoreLifecycle {
		st.LifecycleState = v.LifecycleState
	}
	// Version counters stay at the latest checkin of the series.
	st.BaseVersionID = v.ID
	st.CheckedIn = !opts.CheckOut
	s.write(st)
	s.repo.emit(ctx, event.DocumentRestored, id, s.principal, map[string]string{
		"version": v.ID,
		"label":   v.VersionLabel,
	})
	return s.view(ctx, st)
}

// dirty reports whether the properties of st differ from its base
// version. A never versioned document is dirty.
func (s *Session) dirty(ctx context.Context, st *model.State) (bool, error) {
	if st.BaseVersionID == "" {
		return true, nil
	}
	base, err := s.src.Get(ctx, st.BaseVersionID)
	if errs.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	a, err := model.PropertiesDigest(st.Properties)
	if err != nil {
		return false, err
	}
	b, err := model.PropertiesDigest(base.Properties)
	if err != nil {
		return false, err
	}
	return a != b, nil
}

// GetVersions returns the versions of the series of id in label order.
func (s *Session) GetVersions(ctx context.Context, id string) ([]*model.State, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	st, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	if err := s.checker.Check(ctx, st, security.ReadVersion); err != nil {
		return nil, err
	}
	versions, err := s.seriesVersions(ctx, st.SeriesID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.State, len(versions))
	for i, v := range versions {
		out[i] = v.Clone()
	}
	return out, nil
}

// GetLastVersion returns the latest version of the series of id.
func (s *Session) GetLastVersion(ctx context.Context, id string) (*model.State, error) {
	versions, err := s.GetVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.IsLatest {
			return v, nil
		}
	}
	return nil, errs.NotFound("document %s has no version", id).With("id", id)
}
