// Package viewmodel はページごとの表示状態を保持する。
//
// 各コレクションはリモートAPIから最後に取得した権威スナップショットと、
// サーバー確認前にビューへ見せる楽観的な変更（カウンタの増減やフラグ）を持つ。
// 次のReplaceは楽観的な変更をマージせずに破棄する。楽観的な値とサーバーの値が
// 食い違った場合は表示が一瞬戻るが、これは想定どおりの挙動である。
//
// 同じキーに対する取得が重なった場合は、後に届いたレスポンスが勝つ。
// リクエストIDによる順序付けは行わない。
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Key はコレクションの名前。ページ内で一意。
type Key string

// ErrTypeMismatch は既存スナップショットと異なる要素型でアクセスされたことを示す。
var ErrTypeMismatch = errors.New("viewmodel: element type mismatch")

// entry は1コレクション分の状態。
// authoritative と view には同じ要素型のスライスが入る。
type entry struct {
	authoritative any
	view          any // 楽観的変更が無い場合はnil
	flags         map[string]bool
	version       uint64
	err           error
	updatedAt     time.Time
}

// State はビューに公開するコレクションの状態。
type State struct {
	Key        Key             `json:"key"`
	Items      any             `json:"items"`
	Flags      map[string]bool `json:"flags,omitempty"`
	Version    uint64          `json:"version"`
	Optimistic bool            `json:"optimistic"`
	Error      string          `json:"error,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store はページ1インスタンス分のコレクションを保持する。
// 複数goroutineから同時に利用できる。
type Store struct {
	mu        sync.RWMutex
	entries   map[Key]*entry
	listeners map[int]func(Key)
	nextID    int
	now       func() time.Time
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		entries:   make(map[Key]*entry),
		listeners: make(map[int]func(Key)),
		now:       time.Now,
	}
}

// Subscribe はコレクション変更時に呼ばれるコールバックを登録する。
// 戻り値の関数で登録を解除する。コールバックはロックの外で呼ばれる。
func (s *Store) Subscribe(fn func(Key)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(key Key) {
	s.mu.RLock()
	fns := make([]func(Key), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}

// getOrCreate はロック保持中に呼ぶこと。
func (s *Store) getOrCreate(key Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Replace はkeyのスナップショットをitemsで置き換える。
// 楽観的変更とフラグ、直前の取得エラーは破棄される。
func Replace[T any](s *Store, key Key, items []T) {
	s.mu.Lock()
	e := s.getOrCreate(key)
	if items == nil {
		items = []T{}
	}
	e.authoritative = clone(items)
	e.view = nil
	e.flags = nil
	e.err = nil
	e.version++
	e.updatedAt = s.now()
	s.mu.Unlock()

	s.notify(key)
}

// ReplaceValue は単一値のコレクションを置き換える。
func ReplaceValue[T any](s *Store, key Key, v T) {
	Replace(s, key, []T{v})
}

// ApplyOptimistic は現在の表示値のコピーにpatchを適用し、楽観的な表示値とする。
// 権威スナップショットは変更しない。
func ApplyOptimistic[T any](s *Store, key Key, patch func([]T) []T) error {
	s.mu.Lock()
	e := s.getOrCreate(key)
	current, err := viewOf[T](e)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: key %q", err, key)
	}
	e.view = patch(clone(current))
	e.version++
	s.mu.Unlock()

	s.notify(key)
	return nil
}

// Rollback は楽観的変更とフラグを破棄し、権威スナップショットの表示に戻す。
// 更新APIが失敗した場合に使う。
func (s *Store) Rollback(key Key) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || (e.view == nil && len(e.flags) == 0) {
		s.mu.Unlock()
		return false
	}
	e.view = nil
	e.flags = nil
	e.version++
	s.mu.Unlock()

	s.notify(key)
	return true
}

// RollbackWhere はmatchに一致する要素だけを権威スナップショットの値に戻す。
// 他の要素の楽観的変更とフラグは残る。権威スナップショットに無い要素は取り除く。
func RollbackWhere[T any](s *Store, key Key, match func(T) bool) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.view == nil {
		s.mu.Unlock()
		return false
	}
	view, err := viewOf[T](e)
	if err != nil {
		s.mu.Unlock()
		return false
	}
	var originals []T
	if auth, ok := e.authoritative.([]T); ok {
		for _, it := range auth {
			if match(it) {
				originals = append(originals, it)
			}
		}
	}

	out := make([]T, 0, len(view))
	reverted := false
	for _, it := range view {
		if !match(it) {
			out = append(out, it)
			continue
		}
		reverted = true
		if len(originals) > 0 {
			out = append(out, originals[0])
			originals = originals[1:]
		}
	}
	if !reverted {
		s.mu.Unlock()
		return false
	}
	e.view = out
	e.version++
	s.mu.Unlock()

	s.notify(key)
	return true
}

// Snapshot はビューに表示すべき値（楽観的変更があればそれ）のコピーを返す。
func Snapshot[T any](s *Store, key Key) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	v, err := viewOf[T](e)
	if err != nil {
		return nil
	}
	return clone(v)
}

// Authoritative は最後に取得した権威スナップショットのコピーを返す。
func Authoritative[T any](s *Store, key Key) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.authoritative == nil {
		return nil
	}
	items, ok := e.authoritative.([]T)
	if !ok {
		return nil
	}
	return clone(items)
}

// Value は単一値コレクションの表示値を返す。
func Value[T any](s *Store, key Key) (T, bool) {
	items := Snapshot[T](s, key)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

// SetFlag はkeyに紐づく楽観的なフラグを設定する。
// フラグは同じkeyの次のReplaceで消える。
func (s *Store) SetFlag(key Key, name string, value bool) {
	s.mu.Lock()
	e := s.getOrCreate(key)
	if e.flags == nil {
		e.flags = make(map[string]bool)
	}
	e.flags[name] = value
	e.version++
	s.mu.Unlock()

	s.notify(key)
}

// Flag はフラグの値と、設定されているかどうかを返す。
func (s *Store) Flag(key Key, name string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.flags == nil {
		return false, false
	}
	v, ok := e.flags[name]
	return v, ok
}

// ReportError は取得失敗を記録する。スナップショットはそのまま残す。
func (s *Store) ReportError(key Key, err error) {
	s.mu.Lock()
	e := s.getOrCreate(key)
	e.err = err
	s.mu.Unlock()

	s.notify(key)
}

// Err はkeyの直近の取得エラーを返す。
func (s *Store) Err(key Key) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[key]; ok {
		return e.err
	}
	return nil
}

// DismissError は記録済みの取得エラーを消す。
func (s *Store) DismissError(key Key) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.err = nil
	}
	s.mu.Unlock()
}

// Version はkeyの変更回数を返す。
func (s *Store) Version(key Key) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[key]; ok {
		return e.version
	}
	return 0
}

// Keys は保持しているキーを昇順で返す。
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// State はkeyの状態を型に依存しない形で返す。
func (s *Store) State(key Key) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return State{}, false
	}
	st := State{
		Key:        key,
		Items:      e.authoritative,
		Version:    e.version,
		Optimistic: e.view != nil,
		UpdatedAt:  e.updatedAt,
	}
	if e.view != nil {
		st.Items = e.view
	}
	if len(e.flags) > 0 {
		st.Flags = make(map[string]bool, len(e.flags))
		for k, v := range e.flags {
			st.Flags[k] = v
		}
	}
	if e.err != nil {
		st.Error = e.err.Error()
	}
	return st, true
}

// Refresh はfetchの結果でkeyを置き換える。
// 失敗時は前回のスナップショットを残したままエラーを記録して返す。
func Refresh[T any](ctx context.Context, s *Store, key Key, fetch func(ctx context.Context) ([]T, error)) ([]T, error) {
	items, err := fetch(ctx)
	if err != nil {
		s.ReportError(key, err)
		return nil, err
	}
	Replace(s, key, items)
	return Snapshot[T](s, key), nil
}

// RefreshValue は単一値版のRefresh。
func RefreshValue[T any](ctx context.Context, s *Store, key Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := fetch(ctx)
	if err != nil {
		s.ReportError(key, err)
		var zero T
		return zero, err
	}
	ReplaceValue(s, key, v)
	return v, nil
}

func viewOf[T any](e *entry) ([]T, error) {
	src := e.view
	if src == nil {
		src = e.authoritative
	}
	if src == nil {
		return nil, nil
	}
	items, ok := src.([]T)
	if !ok {
		return nil, ErrTypeMismatch
	}
	return items, nil
}

func clone[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
