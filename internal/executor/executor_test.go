package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"event-sniper/internal/exchange"
	"event-sniper/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVenue struct {
	book       *types.BookResponse
	bookErr    error
	bookCalls  int
	response   *types.OrderResponse
	submitErr  error
	submitted  []types.UserOrder
	balance    float64
	balanceErr error
	hasCreds   bool
	derived    bool
	deriveErr  error
}

func (f *fakeVenue) GetOrderBook(_ context.Context, _ string) (*types.BookResponse, error) {
	f.bookCalls++
	return f.book, f.bookErr
}

func (f *fakeVenue) SubmitOrder(_ context.Context, order types.UserOrder) (*types.OrderResponse, error) {
	f.submitted = append(f.submitted, order)
	return f.response, f.submitErr
}

func (f *fakeVenue) CollateralBalance(_ context.Context) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeVenue) HasL2Credentials() bool { return f.hasCreds }

func (f *fakeVenue) DeriveAPIKey(_ context.Context) (*exchange.Credentials, error) {
	f.derived = true
	return &exchange.Credentials{}, f.deriveErr
}

func book(bid, ask string) *types.BookResponse {
	b := &types.BookResponse{}
	if bid != "" {
		b.Bids = []types.PriceLevel{{Price: bid, Size: "100"}}
	}
	if ask != "" {
		b.Asks = []types.PriceLevel{{Price: ask, Size: "100"}}
	}
	return b
}

func buySignal(size float64) types.TradeSignal {
	return types.TradeSignal{
		TokenID:   "tok1",
		Side:      types.BUY,
		SizeUSDC:  size,
		Reason:    "price below 0.3",
		Timestamp: time.Now(),
	}
}

func TestExecuteDryRunFill(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{}
	exec := New(venue, true, 1000, testLogger())

	result, err := exec.Execute(context.Background(), buySignal(100))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != types.StatusFilled {
		t.Errorf("status = %v, want FILLED", result.Status)
	}
	if result.FilledPrice != 0.50 {
		t.Errorf("filled price = %v, want 0.50", result.FilledPrice)
	}
	if result.FilledSize != 200 {
		t.Errorf("filled size = %v, want 200", result.FilledSize)
	}
	if !strings.HasPrefix(result.OrderID, "dry_run_") || len(result.OrderID) != len("dry_run_")+8 {
		t.Errorf("order ID = %q, want dry_run_ prefix plus 8 hex chars", result.OrderID)
	}
	if venue.bookCalls != 0 || len(venue.submitted) != 0 {
		t.Error("dry run must not touch the venue")
	}
}

func TestExecuteSizeGuardAppliesInDryRun(t *testing.T) {
	t.Parallel()
	exec := New(&fakeVenue{}, true, 1000, testLogger())

	_, err := exec.Execute(context.Background(), buySignal(1500))
	if !errors.Is(err, ErrPositionSize) {
		t.Fatalf("error = %v, want ErrPositionSize", err)
	}
}

func TestExecuteAggressivePricing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		side      types.Side
		book      *types.BookResponse
		wantPrice float64
	}{
		{"buy crosses ask", types.BUY, book("0.48", "0.50"), 0.505},
		{"buy clamps at 0.99", types.BUY, book("0.97", "0.985"), 0.99},
		{"sell shades bid", types.SELL, book("0.50", "0.52"), 0.495},
		{"sell clamps at 0.01", types.SELL, book("0.01", "0.012"), 0.01},
		{"buy without bids", types.BUY, book("", "0.40"), 0.404},
		{"sell without asks", types.SELL, book("0.40", ""), 0.396},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			venue := &fakeVenue{
				book:     tt.book,
				response: &types.OrderResponse{Status: "matched", OrderID: "ox1"},
			}
			exec := New(venue, false, 1000, testLogger())

			signal := buySignal(50)
			signal.Side = tt.side
			if _, err := exec.Execute(context.Background(), signal); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(venue.submitted) != 1 {
				t.Fatalf("submitted %d orders, want 1", len(venue.submitted))
			}
			got := venue.submitted[0]
			if diff := got.Price - tt.wantPrice; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("price = %v, want %v", got.Price, tt.wantPrice)
			}
			wantSize := 50 / tt.wantPrice
			if diff := got.Size - wantSize; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("size = %v, want %v", got.Size, wantSize)
			}
			if got.OrderType != types.OrderTypeFOK {
				t.Errorf("order type = %v, want FOK", got.OrderType)
			}
			if got.Nonce == 0 {
				t.Error("nonce not set")
			}
		})
	}
}

func TestExecuteBookRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		side    types.Side
		book    *types.BookResponse
		bookErr error
		wantErr error
	}{
		{"book fetch fails", types.BUY, nil, errors.New("boom"), ErrOrderBook},
		{"buy with no asks", types.BUY, book("0.40", ""), nil, ErrOrderBook},
		{"sell with no bids", types.SELL, book("", "0.40"), nil, ErrOrderBook},
		{"spread too wide", types.BUY, book("0.10", "0.60"), nil, ErrPriceValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			venue := &fakeVenue{book: tt.book, bookErr: tt.bookErr}
			exec := New(venue, false, 1000, testLogger())

			signal := buySignal(50)
			signal.Side = tt.side
			_, err := exec.Execute(context.Background(), signal)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if len(venue.submitted) != 0 {
				t.Error("rejected signal must not be submitted")
			}
		})
	}
}

func TestExecuteSubmissionFailure(t *testing.T) {
	t.Parallel()
	venue := &fakeVenue{book: book("0.48", "0.50"), submitErr: errors.New("500")}
	exec := New(venue, false, 1000, testLogger())

	_, err := exec.Execute(context.Background(), buySignal(50))
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("error = %v, want ErrExecution", err)
	}
}

func TestNormalizeResponse(t *testing.T) {
	t.Parallel()

	order := types.UserOrder{Price: 0.505, Size: 99.0099}
	tests := []struct {
		name       string
		resp       types.OrderResponse
		wantStatus types.OrderStatus
		wantPrice  float64
		wantSize   float64
		wantErrMsg string
	}{
		{
			name:       "matched with fill details",
			resp:       types.OrderResponse{OrderID: "ox1", Status: "matched", Price: "0.50", Size: "99", Fee: "0.1"},
			wantStatus: types.StatusFilled,
			wantPrice:  0.50,
			wantSize:   99,
		},
		{
			name:       "filled without price falls back to submitted",
			resp:       types.OrderResponse{ID: "ox2", Status: "FILLED"},
			wantStatus: types.StatusFilled,
			wantPrice:  0.505,
			wantSize:   99.0099,
		},
		{
			name:       "rejected keeps size zero and captures message",
			resp:       types.OrderResponse{OrderID: "ox3", Status: "rejected", ErrorMsg: "not enough balance"},
			wantStatus: types.StatusRejected,
			wantPrice:  0.505,
			wantSize:   0,
			wantErrMsg: "not enough balance",
		},
		{
			name:       "unknown status maps to pending",
			resp:       types.OrderResponse{OrderID: "ox4", Status: "live"},
			wantStatus: types.StatusPending,
			wantPrice:  0.505,
			wantSize:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := normalizeResponse(&tt.resp, order)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %v, want %v", got.Status, tt.wantStatus)
			}
			if got.FilledPrice != tt.wantPrice {
				t.Errorf("price = %v, want %v", got.FilledPrice, tt.wantPrice)
			}
			if got.FilledSize != tt.wantSize {
				t.Errorf("size = %v, want %v", got.FilledSize, tt.wantSize)
			}
			if got.ErrorMessage != tt.wantErrMsg {
				t.Errorf("error message = %q, want %q", got.ErrorMessage, tt.wantErrMsg)
			}
		})
	}
}

func TestNormalizeResponseSynthesizesOrderID(t *testing.T) {
	t.Parallel()
	got := normalizeResponse(&types.OrderResponse{Status: "matched"}, types.UserOrder{Price: 0.5, Size: 10})
	if !strings.HasPrefix(got.OrderID, "unknown_") {
		t.Errorf("order ID = %q, want unknown_ prefix", got.OrderID)
	}
}

func TestGetBalance(t *testing.T) {
	t.Parallel()

	t.Run("dry run", func(t *testing.T) {
		t.Parallel()
		exec := New(&fakeVenue{}, true, 1000, testLogger())
		got, err := exec.GetBalance(context.Background())
		if err != nil {
			t.Fatalf("GetBalance() error = %v", err)
		}
		if got != 10000 {
			t.Errorf("balance = %v, want 10000", got)
		}
	})

	t.Run("live", func(t *testing.T) {
		t.Parallel()
		exec := New(&fakeVenue{balance: 512.25}, false, 1000, testLogger())
		got, err := exec.GetBalance(context.Background())
		if err != nil {
			t.Fatalf("GetBalance() error = %v", err)
		}
		if got != 512.25 {
			t.Errorf("balance = %v, want 512.25", got)
		}
	})

	t.Run("auth failure", func(t *testing.T) {
		t.Parallel()
		exec := New(&fakeVenue{balanceErr: errors.New("401")}, false, 1000, testLogger())
		if _, err := exec.GetBalance(context.Background()); !errors.Is(err, ErrAuthentication) {
			t.Errorf("error = %v, want ErrAuthentication", err)
		}
	})
}

func TestSetup(t *testing.T) {
	t.Parallel()

	t.Run("dry run skips derivation", func(t *testing.T) {
		t.Parallel()
		venue := &fakeVenue{}
		exec := New(venue, true, 1000, testLogger())
		if err := exec.Setup(context.Background()); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if venue.derived {
			t.Error("dry run must not derive credentials")
		}
	})

	t.Run("live derives missing credentials", func(t *testing.T) {
		t.Parallel()
		venue := &fakeVenue{}
		exec := New(venue, false, 1000, testLogger())
		if err := exec.Setup(context.Background()); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if !venue.derived {
			t.Error("missing credentials should be derived")
		}
	})

	t.Run("live with credentials is a no-op", func(t *testing.T) {
		t.Parallel()
		venue := &fakeVenue{hasCreds: true}
		exec := New(venue, false, 1000, testLogger())
		if err := exec.Setup(context.Background()); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if venue.derived {
			t.Error("existing credentials must not be re-derived")
		}
	})

	t.Run("derivation failure", func(t *testing.T) {
		t.Parallel()
		venue := &fakeVenue{deriveErr: errors.New("403")}
		exec := New(venue, false, 1000, testLogger())
		if err := exec.Setup(context.Background()); !errors.Is(err, ErrAuthentication) {
			t.Errorf("error = %v, want ErrAuthentication", err)
		}
	})
}
