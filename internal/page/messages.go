package page

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/socialsync/internal/model"
	"github.com/hitoshi/socialsync/internal/viewmodel"
	"github.com/hitoshi/socialsync/internal/worker/poller"
)

// MessagesPage のコレクション
const (
	KeyContacts viewmodel.Key = "contacts"
	KeyChat     viewmodel.Key = "chat"
	KeyPeer     viewmodel.Key = "peer"
)

// MessagesPage はダイレクトメッセージを扱う。
// 選択中の相手とのチャットだけを5秒ごとに再取得する。
type MessagesPage struct {
	*base
}

// NewMessagesPage はMessagesPageをマウントする。
func NewMessagesPage(ctx context.Context, deps Deps) (*MessagesPage, error) {
	b, err := newBase(ctx, deps, KindMessages)
	if err != nil {
		return nil, err
	}
	return &MessagesPage{base: b}, nil
}

// Load は自分以外のユーザー一覧を取得する。
func (p *MessagesPage) Load(ctx context.Context) error {
	if err := p.guard(); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyContacts, p.fetchContacts)
	return err
}

func (p *MessagesPage) fetchContacts(ctx context.Context) ([]model.UserSummary, error) {
	recs, err := p.deps.API.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	return excludeUser(p.deps.Ingest.Users(recs), p.viewer), nil
}

// Contacts はチャット相手の候補を返す。
func (p *MessagesPage) Contacts() []model.UserSummary {
	return viewmodel.Snapshot[model.UserSummary](p.store, KeyContacts)
}

// Peer は選択中の相手を返す。
func (p *MessagesPage) Peer() string {
	peer, _ := viewmodel.Value[string](p.store, KeyPeer)
	return peer
}

// Chat は選択中の相手とのメッセージを返す。
func (p *MessagesPage) Chat() []model.ChatMessage {
	return viewmodel.Snapshot[model.ChatMessage](p.store, KeyChat)
}

// Open はpeerとのチャットを開く。前の相手のポーリングを止めてから
// チャットを取得し、新しい相手でポーリングを開始する。
func (p *MessagesPage) Open(ctx context.Context, peer string) error {
	if err := p.guard(); err != nil {
		return err
	}
	peer = strings.TrimSpace(peer)
	if peer == "" || peer == p.viewer {
		return fmt.Errorf("%w: invalid chat peer %q", ErrInvalidInput, peer)
	}

	p.page.Stop(poller.PurposeChat)
	viewmodel.ReplaceValue(p.store, KeyPeer, peer)
	viewmodel.Replace[model.ChatMessage](p.store, KeyChat, nil)

	fetch := p.chatFetcher(peer)
	if _, err := refresh(ctx, p.base, KeyChat, fetch); err != nil {
		return err
	}
	p.poll(poller.PurposeChat, p.deps.ChatInterval, func(ctx context.Context) error {
		_, err := refresh(ctx, p.base, KeyChat, fetch)
		return err
	}, poller.WithCondition(func() bool { return p.Peer() == peer }))
	return nil
}

// chatFetcher はpeerとのチャット取得関数を返す。
// 相手を切り替えた後に届いた古い相手の応答は捨てる。
func (p *MessagesPage) chatFetcher(peer string) func(ctx context.Context) ([]model.ChatMessage, error) {
	return func(ctx context.Context) ([]model.ChatMessage, error) {
		recs, err := p.deps.API.Chat(ctx, p.viewer, peer)
		if err != nil {
			return nil, err
		}
		if p.Peer() != peer {
			return p.Chat(), nil
		}
		return p.deps.Ingest.DirectMessages(p.viewer, peer, recs), nil
	}
}

// Send は選択中の相手にメッセージを送信し、チャットを再取得する。
func (p *MessagesPage) Send(ctx context.Context, message string) error {
	if err := p.guard(); err != nil {
		return err
	}
	peer := p.Peer()
	if peer == "" {
		return fmt.Errorf("%w: no chat peer selected", ErrInvalidInput)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if err := p.deps.API.SendMessage(ctx, p.viewer, peer, message); err != nil {
		return err
	}
	_, err := refresh(ctx, p.base, KeyChat, p.chatFetcher(peer))
	return err
}

func excludeUser(users []model.UserSummary, username string) []model.UserSummary {
	out := make([]model.UserSummary, 0, len(users))
	for _, u := range users {
		if u.Username != username {
			out = append(out, u)
		}
	}
	return out
}
