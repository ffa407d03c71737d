package view

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamviewer/internal/clock"
	"streamviewer/internal/logger"
)

// ToastTTL is how long a toast stays on screen.
const ToastTTL = 4500 * time.Millisecond

// Toaster shows transient notifications.
type Toaster interface {
	Toast(msg string, v Variant)
}

// Discard drops every toast.
type Discard struct{}

func (Discard) Toast(string, Variant) {}

type Toast struct {
	ID      string
	Message string
	Variant Variant
	At      time.Time
}

// ToastLog keeps recent toasts for a front end to draw and writes each one
// to the log, which is all the headless console shows.
type ToastLog struct {
	mu     sync.Mutex
	clk    clock.Clock
	log    *zap.Logger
	toasts []Toast
}

func NewToastLog(clk clock.Clock, log *zap.Logger) *ToastLog {
	if clk == nil {
		clk = clock.Real()
	}
	return &ToastLog{clk: clk, log: logger.OrNop(log)}
}

func (l *ToastLog) Toast(msg string, v Variant) {
	t := Toast{ID: uuid.NewString(), Message: msg, Variant: v, At: l.clk.Now()}

	l.mu.Lock()
	l.toasts = append(l.prune(t.At), t)
	l.mu.Unlock()

	if v == Bad {
		l.log.Warn(msg, zap.String("toast", t.ID))
		return
	}
	l.log.Info(msg, zap.String("toast", t.ID))
}

// Active returns toasts younger than ToastTTL, oldest first.
func (l *ToastLog) Active() []Toast {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toasts = l.prune(l.clk.Now())
	out := make([]Toast, len(l.toasts))
	copy(out, l.toasts)
	return out
}

func (l *ToastLog) prune(now time.Time) []Toast {
	i := 0
	for i < len(l.toasts) && now.Sub(l.toasts[i].At) >= ToastTTL {
		i++
	}
	return l.toasts[i:]
}
