package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"tradepost.app/internal/account"
	"tradepost.app/internal/auth"
	"tradepost.app/internal/catalog"
	"tradepost.app/internal/ledger"
	"tradepost.app/internal/match"
)

var (
	accountCols = []string{"id", "name", "email", "password_hash", "role", "subscription_active",
		"gateway_customer_id", "gateway_subscription_id", "created_at", "updated_at"}
	listingCols = []string{"id", "kind", "owner_id", "title", "content", "price", "genre", "year", "poster",
		"created_at", "updated_at", "likes", "dislikes"}
	orderCols = []string{"id", "session_id", "owner_account_id", "kind", "amount", "currency", "status", "created_at", "updated_at"}
	matchCols = []string{"id", "listing_id", "matcher_account_id", "responded_by_owner", "created_at"}
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func orderRow(status ledger.Status) []driver.Value {
	now := time.Now()
	return []driver.Value{"o1", "cs_1", "a1", "payment", int64(1500), "usd", string(status), now, now}
}

func TestCreateAccountMapsEmailConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into accounts").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "accounts_email_key"})

	_, err := s.CreateAccount(context.Background(), account.Account{ID: "a1", Email: "x@example.com", Role: auth.RoleBuyer})
	if !errors.Is(err, account.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSetSubscriptionMapsLinkedCustomer(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("update accounts").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "accounts_gateway_customer_key"})

	_, err := s.SetSubscription(context.Background(), "a1", account.SubscriptionPatch{Active: true, CustomerID: "cus_b"})
	if !errors.Is(err, account.ErrCustomerLinked) {
		t.Fatalf("expected ErrCustomerLinked, got %v", err)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from accounts where id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountCols))

	if _, err := s.GetAccount(context.Background(), "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetSubscriptionKeepsEmptyIDs(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("update accounts").
		WithArgs("a1", true, "cus_1", nil).
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("a1", "Ann", "ann@example.com", "hash", "seller", true, "cus_1", "sub_old", now, now))

	a, err := s.SetSubscription(context.Background(), "a1", account.SubscriptionPatch{Active: true, CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}
	if !a.SubscriptionActive || a.GatewaySubscriptionID != "sub_old" || a.Role != auth.RoleSeller {
		t.Fatalf("unexpected account: %+v", a)
	}
}

func TestGetListingSplitsReactions(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("from listings l where l.id = \\$1").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(listingCols).
			AddRow("l1", "film", "d1", "Heat", "heist", int64(0), "drama", 1995, "", now, now, "a1,a2", ""))

	l, err := s.GetListing(context.Background(), "l1")
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if len(l.Likes) != 2 || len(l.Dislikes) != 0 || l.Kind != catalog.KindFilm {
		t.Fatalf("unexpected listing: %+v", l)
	}
	if l.ReactionOf("a2") != catalog.ReactionLike {
		t.Fatalf("a2 should like the listing")
	}
}

func TestListListingsBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("where l.kind = \\$1 and l.genre = \\$2 order by l.id desc limit \\$3").
		WithArgs("film", "drama", 10).
		WillReturnRows(sqlmock.NewRows(listingCols))

	out, err := s.ListListings(context.Background(), catalog.Filter{Kind: catalog.KindFilm, Genre: "drama", Limit: 10})
	if err != nil {
		t.Fatalf("ListListings: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}

func TestSetReactionNoneDeletes(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	mock.ExpectExec("delete from listing_reactions").
		WithArgs("l1", "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("from listings l where l.id = \\$1").
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows(listingCols).
			AddRow("l1", "product", "s1", "Lamp", "brass", int64(2500), "", 0, "", now, now, "", ""))

	l, err := s.SetReaction(context.Background(), "l1", "a1", catalog.ReactionNone)
	if err != nil {
		t.Fatalf("SetReaction: %v", err)
	}
	if l.ReactionOf("a1") != catalog.ReactionNone {
		t.Fatalf("reaction should be cleared")
	}
}

func TestSetReactionMissingListing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into listing_reactions").
		WithArgs("gone", "a1", "like").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if _, err := s.SetReaction(context.Background(), "gone", "a1", catalog.ReactionLike); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
}

func TestDeleteListingNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from listings").WithArgs("l9").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteListing(context.Background(), "l9"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateOrderDuplicateSession(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into orders").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "orders_session_id_key"})

	_, err := s.CreateOrder(context.Background(), ledger.Order{ID: "o1", SessionID: "cs_1", Status: ledger.StatusPending})
	if !errors.Is(err, ledger.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestResolveOrder(t *testing.T) {
	t.Run("pending moves", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery("update orders").
			WithArgs("cs_1", "SUCCESS").
			WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(ledger.StatusSuccess)...))

		o, changed, err := s.ResolveOrder(context.Background(), "cs_1", ledger.StatusSuccess)
		if err != nil || !changed || o.Status != ledger.StatusSuccess {
			t.Fatalf("got %+v changed=%v err=%v", o, changed, err)
		}
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery("update orders").WithArgs("cs_1", "SUCCESS").WillReturnRows(sqlmock.NewRows(orderCols))
		mock.ExpectQuery("select .* from orders where session_id = \\$1").
			WithArgs("cs_1").
			WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(ledger.StatusSuccess)...))

		_, changed, err := s.ResolveOrder(context.Background(), "cs_1", ledger.StatusSuccess)
		if err != nil || changed {
			t.Fatalf("expected unchanged, got changed=%v err=%v", changed, err)
		}
	})

	t.Run("opposite status is refused", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery("update orders").WithArgs("cs_1", "REJECT").WillReturnRows(sqlmock.NewRows(orderCols))
		mock.ExpectQuery("select .* from orders where session_id = \\$1").
			WithArgs("cs_1").
			WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(ledger.StatusSuccess)...))

		o, _, err := s.ResolveOrder(context.Background(), "cs_1", ledger.StatusReject)
		if !errors.Is(err, ledger.ErrAlreadyResolved) || o.Status != ledger.StatusSuccess {
			t.Fatalf("expected ErrAlreadyResolved with SUCCESS order, got %+v %v", o, err)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery("update orders").WithArgs("cs_x", "REJECT").WillReturnRows(sqlmock.NewRows(orderCols))
		mock.ExpectQuery("select .* from orders where session_id = \\$1").WithArgs("cs_x").WillReturnRows(sqlmock.NewRows(orderCols))

		if _, _, err := s.ResolveOrder(context.Background(), "cs_x", ledger.StatusReject); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCountOrdersByStatusFillsZeros(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select status, count\\(\\*\\) from orders group by status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("SUCCESS", 3))

	counts, err := s.CountOrdersByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountOrdersByStatus: %v", err)
	}
	if counts[ledger.StatusSuccess] != 3 || counts[ledger.StatusPending] != 0 || len(counts) != 3 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestCreateMatchErrors(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into matches").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "matches_listing_matcher_key"})
	mock.ExpectQuery("insert into matches").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	ctx := context.Background()
	if _, err := s.CreateMatch(ctx, match.Match{ID: "m1", ListingID: "l1", MatcherAccountID: "b1"}); !errors.Is(err, match.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.CreateMatch(ctx, match.Match{ID: "m2", ListingID: "gone", MatcherAccountID: "b1"}); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected catalog.ErrNotFound, got %v", err)
	}
}

func TestListMatchesByListingsExpandsPlaceholders(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("where listing_id in \\(\\$1, \\$2\\)").
		WithArgs("l1", "l2").
		WillReturnRows(sqlmock.NewRows(matchCols).
			AddRow("m1", "l1", "b1", false, time.Now()).
			AddRow("m2", "l2", "b2", true, time.Now()))

	out, err := s.ListMatchesByListings(context.Background(), []string{"l1", "l2"})
	if err != nil {
		t.Fatalf("ListMatchesByListings: %v", err)
	}
	if len(out) != 2 || !out[1].RespondedByOwner {
		t.Fatalf("unexpected matches: %+v", out)
	}
}

func TestListMatchesByListingsEmpty(t *testing.T) {
	s, _ := newMock(t)
	out, err := s.ListMatchesByListings(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected no query and no matches, got %v %v", out, err)
	}
}
