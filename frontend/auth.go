// Macaroon-based authentication/authorization for the FunderService gRPC
// surface: the Coordinator itself is a local trust boundary (§4.6's
// single-goroutine ownership), but the RPC socket that reaches it is
// not. Grounded on daemon/lnd.go's macaroon bootstrap (open a service,
// unlock or create its root key, mint admin/read-only/invoice-scoped
// macaroons) and rpcserver.go's permissions map (one []bakery.Op per
// RPC method), applied here directly against gopkg.in/macaroon-bakery.v2
// rather than through the teacher's own macaroons wrapper package (not
// part of this corpus's copied sources -- see DESIGN.md).
package frontend

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	macaroon "gopkg.in/macaroon.v2"
	"gopkg.in/macaroon-bakery.v2/bakery"

	"github.com/coreos/bbolt"
)

var rootKeyBucket = []byte("macaroon-root-keys")

const rootKeyIdString = "0"

// boltRootKeyStore is a minimal bakery.RootKeyStore backed by the same
// bbolt library persist.Store already uses for the rest of this
// instance's durable state, kept in its own file so a compromised
// macaroon root key is independent of losing the Funder mutation log.
type boltRootKeyStore struct {
	db *bolt.DB
}

func openRootKeyStore(path string) (*boltRootKeyStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("frontend: unable to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootKeyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltRootKeyStore{db: db}, nil
}

func (s *boltRootKeyStore) Close() error {
	return s.db.Close()
}

// Get returns the root key for id, generating and persisting one on
// first use -- every macaroon this service ever mints shares the single
// root key at rootKeyIdString, matching daemon/lnd.go's one-root-key-
// per-instance model (distinct macaroons are distinguished by their
// caveats/ops, not by a per-macaroon root key).
func (s *boltRootKeyStore) Get(_ context.Context, id []byte) ([]byte, error) {
	var key []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootKeyBucket).Get(id)
		if b == nil {
			return nil
		}
		key = append([]byte(nil), b...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, bakery.ErrNotFound
	}
	return key, nil
}

// RootKey returns the single root key this store ever issues, creating
// it on first call.
func (s *boltRootKeyStore) RootKey(ctx context.Context) ([]byte, []byte, error) {
	id := []byte(rootKeyIdString)
	key, err := s.Get(ctx, id)
	if err == nil {
		return key, id, nil
	}
	if err != bakery.ErrNotFound {
		return nil, nil, err
	}

	key = make([]byte, 32)
	if _, err := cryptorand.Read(key); err != nil {
		return nil, nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootKeyBucket).Put(id, key)
	})
	if err != nil {
		return nil, nil, err
	}
	return key, id, nil
}

// Service wraps a bakery.Bakery configured to check macaroons sent by
// offsetctl (or any other front-end) against the operation each RPC
// method requires.
type Service struct {
	store  *boltRootKeyStore
	bakery *bakery.Bakery
}

// NewService opens (or creates) the root-key store at dbPath and
// constructs a bakery scoped to location, mirroring macaroons.NewService's
// role in daemon/lnd.go's startup sequence.
func NewService(dbPath, location string) (*Service, error) {
	store, err := openRootKeyStore(dbPath)
	if err != nil {
		return nil, err
	}
	b := bakery.New(bakery.BakeryParams{
		Location:     location,
		RootKeyStore: store,
		Checker:      bakery.NewChecker(bakery.CheckerParams{}),
	})
	return &Service{store: store, bakery: b}, nil
}

func (s *Service) Close() error {
	return s.store.Close()
}

// Bake mints a macaroon authorized for ops -- e.g. readPermissions for a
// monitoring front-end, or the full permissions set for offsetctl's own
// admin macaroon, following genMacaroons' pattern in daemon/lnd.go.
func (s *Service) Bake(ctx context.Context, ops ...bakery.Op) (*macaroon.Macaroon, error) {
	mac, err := s.bakery.Oven.NewMacaroon(ctx, bakery.LatestVersion, nil, ops...)
	if err != nil {
		return nil, err
	}
	return mac.M(), nil
}

// permissions maps each FunderService RPC to the bakery.Op(s) its
// macaroon must authorize, matching rpcserver.go's permissions table
// one for one but against this service's own entity/action vocabulary
// (friends/currency/invoices/payments) instead of lnrpc's onchain/
// offchain/peers/address/message/info.
var permissions = map[string][]bakery.Op{
	"/frontend.FunderService/AddFriend": {{
		Entity: "friends", Action: "write",
	}},
	"/frontend.FunderService/OpenFriendCurrency": {{
		Entity: "friends", Action: "write",
	}},
	"/frontend.FunderService/SetFriendCurrencyMaxDebt": {{
		Entity: "friends", Action: "write",
	}},
	"/frontend.FunderService/AddInvoice": {{
		Entity: "invoices", Action: "write",
	}},
	"/frontend.FunderService/CommitInvoice": {{
		Entity: "invoices", Action: "write",
	}},
	"/frontend.FunderService/CancelInvoice": {{
		Entity: "invoices", Action: "write",
	}},
	"/frontend.FunderService/RequestSendFunds": {{
		Entity: "payments", Action: "write",
	}},
	"/frontend.FunderService/PaymentStatus": {{
		Entity: "payments", Action: "read",
	}},
}

// readPermissions/writePermissions/invoicePermissions are the scoped
// groups a caller passes to Service.Bake to mint a macaroon, matching
// daemon/lnd.go's genMacaroons three-tier split (admin/invoice/
// read-only).
var (
	readPermissions = []bakery.Op{
		{Entity: "friends", Action: "read"},
		{Entity: "invoices", Action: "read"},
		{Entity: "payments", Action: "read"},
	}
	writePermissions = []bakery.Op{
		{Entity: "friends", Action: "write"},
		{Entity: "invoices", Action: "write"},
		{Entity: "payments", Action: "write"},
	}
	invoicePermissions = []bakery.Op{
		{Entity: "invoices", Action: "read"},
		{Entity: "invoices", Action: "write"},
	}
)

// macaroonMetadataKey is the gRPC metadata key offsetctl attaches its
// hex-encoded macaroon under, mirroring lncli's convention for lnd.
const macaroonMetadataKey = "macaroon"

// UnaryInterceptor returns the grpc.UnaryServerInterceptor every
// FunderService RPC is registered under: it extracts the caller's
// macaroon from incoming metadata and checks it authorizes whatever
// permissions the called method requires. A method with no entry in
// permissions is allowed unconditionally -- reserved for future
// unauthenticated health-check style RPCs, none of which exist yet.
func (s *Service) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ops, ok := permissions[info.FullMethod]
	if !ok {
		return handler(ctx, req)
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md.Get(macaroonMetadataKey)) == 0 {
		return nil, fmt.Errorf("frontend: no macaroon provided for %s", info.FullMethod)
	}

	raw, err := hex.DecodeString(md.Get(macaroonMetadataKey)[0])
	if err != nil {
		return nil, fmt.Errorf("frontend: malformed macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("frontend: malformed macaroon: %w", err)
	}

	authChecker := s.bakery.Checker.Auth(macaroon.Slice{mac})
	if _, err := authChecker.Allow(ctx, ops...); err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}

	return handler(ctx, req)
}
