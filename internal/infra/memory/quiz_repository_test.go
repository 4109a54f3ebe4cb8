package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"elsa-quiz-live/internal/domain"

	"github.com/jonboulle/clockwork"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(SampleQuizzes())}
	repo := NewQuizRepository(loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(quiz.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(quiz.Questions))
	}
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
}

func TestQuizRepositoryExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(SampleQuizzes())}
	repo := NewQuizRepositoryWithClock(loader, time.Minute, clock)

	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	clock.Advance(59 * time.Second)
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 1 {
		t.Fatalf("expected entry alive before ttl, loader calls %d", loader.calls.Load())
	}

	// ttl plus the maximum jitter
	clock.Advance(7 * time.Second)
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls.Load())
	}

	repo.Invalidate("quiz-1")
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	if loader.calls.Load() != 3 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls.Load())
	}
}

func TestQuizRepositoryCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(SampleQuizzes()), gate: release}
	repo := NewQuizRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
				t.Errorf("get quiz: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestQuizRepositoryDoesNotCacheErrors(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(nil)}
	repo := NewQuizRepository(loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := repo.GetQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
			t.Fatalf("expected ErrQuizNotFound, got %v", err)
		}
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected errors to be retried, loader calls %d", loader.calls.Load())
	}
}

type countingLoader struct {
	QuizLoader
	gate  chan struct{}
	calls atomic.Int32
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}
