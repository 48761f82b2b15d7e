package checkout

import (
	"context"
	"sync"

	"discuno-payments/internal/infra/calcom"
	"discuno-payments/internal/infra/mail"
)

type fakeCalendar struct {
	mu    sync.Mutex
	calls int
	reqs  []calcom.BookingRequest
	err   error
	uid   string
}

func (f *fakeCalendar) CreateBooking(_ context.Context, req calcom.BookingRequest) (calcom.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return calcom.Booking{}, f.err
	}
	return calcom.Booking{ID: 1, UID: f.uid}, nil
}

type fakePayments struct {
	calls int
	keys  []string
	err   error
}

func (f *fakePayments) Refund(_ context.Context, paymentIntentID, key string) (string, error) {
	f.calls++
	f.keys = append(f.keys, key)
	if f.err != nil {
		return "", f.err
	}
	return "re_" + paymentIntentID, nil
}

type fakeNotifier struct {
	alerts   []mail.AdminAlert
	failures []mail.BookingFailure
	alertErr error
	mailErr  error
}

func (f *fakeNotifier) SendBookingFailure(_ context.Context, m mail.BookingFailure) error {
	f.failures = append(f.failures, m)
	return f.mailErr
}

func (f *fakeNotifier) SendAdminAlert(_ context.Context, a mail.AdminAlert) error {
	f.alerts = append(f.alerts, a)
	return f.alertErr
}

type fakeAnalytics struct {
	calls  int
	events []string
	err    error
	hook   func()
}

func (f *fakeAnalytics) Track(_ context.Context, _ string, event string, _ map[string]interface{}) error {
	f.calls++
	f.events = append(f.events, event)
	if f.hook != nil {
		f.hook()
	}
	return f.err
}

type fakePaymentStore struct {
	calls  int
	failed []string
	err    error
}

func (f *fakePaymentStore) MarkFailed(_ context.Context, paymentIntentID string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.failed = append(f.failed, paymentIntentID)
	return nil
}
