package agdtest

import (
	"context"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/agdservice"
	"github.com/AdguardTeam/FilterSync/internal/debugsvc"
	"github.com/AdguardTeam/FilterSync/internal/dnr"
	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/matcher"
	"github.com/AdguardTeam/FilterSync/internal/storage"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/FilterSync/internal/synchronizer"
)

// Interface Mocks
//
// Keep entities within a module/package in alphabetic order.

// Package agdhttp

// type check
var _ agdhttp.Fetcher = (*Fetcher)(nil)

// Fetcher is an [agdhttp.Fetcher] for tests.
type Fetcher struct {
	OnFetch func(ctx context.Context, req *agdhttp.Request) (resp *agdhttp.Response, err error)
}

// Fetch implements the [agdhttp.Fetcher] interface for *Fetcher.
func (f *Fetcher) Fetch(
	ctx context.Context,
	req *agdhttp.Request,
) (resp *agdhttp.Response, err error) {
	return f.OnFetch(ctx, req)
}

// Package agdservice

// type check
var _ agdservice.Refresher = (*Refresher)(nil)

// Refresher is an [agdservice.Refresher] for tests.
type Refresher struct {
	OnRefresh func(ctx context.Context) (err error)
}

// Refresh implements the [agdservice.Refresher] interface for *Refresher.
func (r *Refresher) Refresh(ctx context.Context) (err error) {
	return r.OnRefresh(ctx)
}

// Package debugsvc

// type check
var _ debugsvc.HostMatcher = (*HostMatcher)(nil)

// HostMatcher is a [debugsvc.HostMatcher] for tests.
type HostMatcher struct {
	OnMatchHost func(ctx context.Context, host string) (res *matcher.Result, err error)
}

// MatchHost implements the [debugsvc.HostMatcher] interface for *HostMatcher.
func (m *HostMatcher) MatchHost(ctx context.Context, host string) (res *matcher.Result, err error) {
	return m.OnMatchHost(ctx, host)
}

// Package dnr

// type check
var _ dnr.RuleStore = (*RuleStore)(nil)

// RuleStore is a [dnr.RuleStore] for tests.
type RuleStore struct {
	OnUpdateDynamicRules func(ctx context.Context, removeIDs []int, add []*dnr.Rule) (err error)
	OnDynamicRules       func(ctx context.Context) (rules []*dnr.Rule, err error)
	OnMaxDynamicRules    func() (n int)
}

// UpdateDynamicRules implements the [dnr.RuleStore] interface for *RuleStore.
func (s *RuleStore) UpdateDynamicRules(
	ctx context.Context,
	removeIDs []int,
	add []*dnr.Rule,
) (err error) {
	return s.OnUpdateDynamicRules(ctx, removeIDs, add)
}

// DynamicRules implements the [dnr.RuleStore] interface for *RuleStore.
func (s *RuleStore) DynamicRules(ctx context.Context) (rules []*dnr.Rule, err error) {
	return s.OnDynamicRules(ctx)
}

// MaxDynamicRules implements the [dnr.RuleStore] interface for *RuleStore.
func (s *RuleStore) MaxDynamicRules() (n int) {
	return s.OnMaxDynamicRules()
}

// Package errcoll

// type check
var _ errcoll.Interface = (*ErrorCollector)(nil)

// ErrorCollector is an [errcoll.Interface] for tests.
type ErrorCollector struct {
	OnCollect func(ctx context.Context, err error)
}

// Collect implements the [errcoll.Interface] interface for *ErrorCollector.
func (c *ErrorCollector) Collect(ctx context.Context, err error) {
	c.OnCollect(ctx, err)
}

// Package storage

// type check
var _ storage.Backend = (*StorageBackend)(nil)

// StorageBackend is a [storage.Backend] for tests.
type StorageBackend struct {
	OnLoad func(ctx context.Context) (d *storage.Data, err error)
	OnSave func(ctx context.Context, d *storage.Data) (err error)
}

// Load implements the [storage.Backend] interface for *StorageBackend.
func (b *StorageBackend) Load(ctx context.Context) (d *storage.Data, err error) {
	return b.OnLoad(ctx)
}

// Save implements the [storage.Backend] interface for *StorageBackend.
func (b *StorageBackend) Save(ctx context.Context, d *storage.Data) (err error) {
	return b.OnSave(ctx, d)
}

// Package synchronizer

// type check
var _ synchronizer.Deployer = (*Deployer)(nil)

// Deployer is a [synchronizer.Deployer] for tests.
type Deployer struct {
	OnApplyUpdate func(
		ctx context.Context,
		sub *subscription.Subscription,
		added []string,
		removed []string,
	) (err error)
}

// ApplyUpdate implements the [synchronizer.Deployer] interface for *Deployer.
func (d *Deployer) ApplyUpdate(
	ctx context.Context,
	sub *subscription.Subscription,
	added []string,
	removed []string,
) (err error) {
	return d.OnApplyUpdate(ctx, sub, added, removed)
}
