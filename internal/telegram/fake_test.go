package telegram

import (
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// fakeAPI serves scripted poll results, then blocks until released
type fakeAPI struct {
	mu       sync.Mutex
	polls    []pollResult
	offsets  []int
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	file     tgbotapi.File
	fileErr  error
	sendErr  error
	block    chan struct{}
}

func newFakeAPI(polls ...pollResult) *fakeAPI {
	return &fakeAPI{polls: polls, block: make(chan struct{})}
}

func (f *fakeAPI) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, cfg.Offset)
	if len(f.polls) > 0 {
		r := f.polls[0]
		f.polls = f.polls[1:]
		f.mu.Unlock()
		return r.updates, r.err
	}
	f.mu.Unlock()

	<-f.block
	return nil, errors.New("released")
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	return f.file, f.fileErr
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeAPI) pollOffsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func textUpdate(updateID int, chatID, fromID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: updateID * 10,
			From:      &tgbotapi.User{ID: fromID},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Date:      1700000000,
			Text:      text,
		},
	}
}
