// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"time"

	"github.com/s0up/mlm/internal/domain"
)

// dateLayout is the accepted uploaded_after/uploaded_before format: a bare
// date, since trackers don't expose upload times finer than a day.
const dateLayout = "2006-01-02"

// BuildSearchSpecs decodes every [[autograb]] entry, plus every
// [[goodreads_list]]'s nested [[grab]] entries, into domain.SearchSpec
// values ready for the scheduler to hand to the selector.
func BuildSearchSpecs(cfg *domain.Config) ([]domain.SearchSpec, error) {
	specs := make([]domain.SearchSpec, 0, len(cfg.Autograb))
	for _, raw := range cfg.Autograb {
		spec, err := toSearchSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("autograb %q: %w", raw.Name, err)
		}
		specs = append(specs, spec)
	}
	for _, list := range cfg.GoodreadsList {
		for _, raw := range list.Grab {
			spec, err := toSearchSpec(raw)
			if err != nil {
				return nil, fmt.Errorf("goodreads_list %q grab %q: %w", list.Name, raw.Name, err)
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func toSearchSpec(raw domain.SearchSpecTOML) (domain.SearchSpec, error) {
	uploadedAfter, err := parseOptionalDate(raw.UploadedAfter)
	if err != nil {
		return domain.SearchSpec{}, fmt.Errorf("uploaded_after: %w", err)
	}
	uploadedBefore, err := parseOptionalDate(raw.UploadedBefore)
	if err != nil {
		return domain.SearchSpec{}, fmt.Errorf("uploaded_before: %w", err)
	}

	spec := domain.SearchSpec{
		Name:            raw.Name,
		Type:            domain.SearchType(raw.Type),
		UploaderID:      raw.UploaderID,
		CostPolicy:      domain.CostPolicy(raw.CostPolicy),
		AssignCategory:  raw.Category,
		Languages:       toSet(raw.Languages),
		Flags:           raw.Flags,
		Categories:      toSet(raw.Categories),
		MinSize:         raw.MinSize,
		MaxSize:         raw.MaxSize,
		UploadedAfter:   uploadedAfter,
		UploadedBefore:  uploadedBefore,
		MinSeeders:      raw.MinSeeders,
		MaxSeeders:      raw.MaxSeeders,
		MinLeechers:     raw.MinLeechers,
		MaxLeechers:     raw.MaxLeechers,
		MinSnatched:     raw.MinSnatched,
		MaxSnatched:     raw.MaxSnatched,
		ExcludeUploader: toSet(raw.ExcludeUploader),
		Query:           raw.Query,
		SearchIn:        toSearchFieldSet(raw.SearchIn),
		Sort:            domain.SortOrder(raw.Sort),
		MaxPages:        raw.MaxPages,
		UnsatBuffer:     raw.UnsatBuffer,
		WedgeBuffer:     raw.WedgeBuffer,
		MaxActiveDownloads: raw.MaxActiveDownloads,
		DryRun:             raw.DryRun,
	}
	return spec, nil
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func toSearchFieldSet(values []string) map[domain.SearchField]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[domain.SearchField]struct{}, len(values))
	for _, v := range values {
		set[domain.SearchField(v)] = struct{}{}
	}
	return set
}
