package pgsql

import (
	"context"
	"time"

	"github.com/jackc/pgx"
	"github.com/jackc/pgx/pgtype"
	"src.userspace.com.au/peerdb"
)

const schemaVersion = 1

// Store is a peer directory in PostgreSQL. Each operation runs in its own
// transaction on a pooled connection.
type Store struct {
	*pgx.ConnPool
}

// NewStore connects and initializes a new store
func NewStore(dsn string) (*Store, error) {
	cfg, err := pgx.ParseConnectionString(dsn)
	if err != nil {
		return nil, peerdb.Error.New("invalid dsn: %v", err)
	}
	c, err := pgx.NewConnPool(pgx.ConnPoolConfig{ConnConfig: cfg, MaxConnections: 10})
	if err != nil {
		return nil, peerdb.Error.New("failed to open store: %v", err)
	}

	s := &Store{c}

	err = s.migrate()
	if err != nil {
		c.Close()
		return nil, peerdb.Error.Wrap(err)
	}
	return s, nil
}

// Close implements store.Directory
func (s *Store) Close() error {
	s.ConnPool.Close()
	return nil
}

// UpdatePeer implements store.Announcer
func (s *Store) UpdatePeer(ctx context.Context, p peerdb.Peer, hashes []peerdb.Hash) (known bool, err error) {
	p, err = peerdb.CheckUpdate(p, hashes)
	if err != nil {
		return false, err
	}

	tx, err := s.BeginEx(ctx, nil)
	if err != nil {
		return false, peerdb.Error.New("updatePeer: %v", err)
	}
	defer tx.Rollback()

	addr := p.Addr.String()
	ct, err := tx.ExecEx(ctx, sqlInsertPeer, nil, addr, peerdb.ToUnix(p.DateAdded), peerdb.ToUnix(p.LastSeen))
	if err != nil {
		return false, peerdb.Error.New("insertPeer: %v", err)
	}
	if ct.RowsAffected() == 0 {
		known = true
		if _, err = tx.ExecEx(ctx, sqlTouchPeer, nil, peerdb.ToUnix(p.LastSeen), addr); err != nil {
			return false, peerdb.Error.New("touchPeer: %v", err)
		}
	}

	for _, h := range hashes {
		if _, err = tx.ExecEx(ctx, sqlInsertHash, nil, []byte(h)); err != nil {
			return false, peerdb.Error.New("insertHash: %v", err)
		}
		if _, err = tx.ExecEx(ctx, sqlInsertPeerHash, nil, addr, []byte(h)); err != nil {
			return false, peerdb.Error.New("insertPeerHash: %v", err)
		}
	}

	if err = tx.CommitEx(ctx); err != nil {
		return false, peerdb.Error.New("updatePeer: %v", err)
	}
	return known, nil
}

// RemovePeer implements store.Directory
func (s *Store) RemovePeer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	tx, err := s.BeginEx(ctx, nil)
	if err != nil {
		return nil, peerdb.Error.New("removePeer: %v", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecEx(ctx, sqlRemovePeerHashes, nil, addr.String()); err != nil {
		return nil, peerdb.Error.New("removePeerHashes: %v", err)
	}
	rows, err := tx.QueryEx(ctx, sqlRemovePeer, nil, addr.String())
	if err != nil {
		return nil, peerdb.Error.New("removePeer: %v", err)
	}
	peers, err := fetchPeers(rows)
	if err != nil {
		return nil, err
	}

	if err = tx.CommitEx(ctx); err != nil {
		return nil, peerdb.Error.New("removePeer: %v", err)
	}
	if len(peers) == 0 {
		return nil, nil
	}
	return &peers[0], nil
}

// Peer implements store.Directory
func (s *Store) Peer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	rows, err := s.QueryEx(ctx, sqlGetPeer, nil, addr.String())
	if err != nil {
		return nil, peerdb.Error.New("getPeer: %v", err)
	}
	peers, err := fetchPeers(rows)
	if err != nil || len(peers) == 0 {
		return nil, err
	}
	return &peers[0], nil
}

// Peers implements store.Directory
func (s *Store) Peers(ctx context.Context) ([]peerdb.Peer, error) {
	rows, err := s.QueryEx(ctx, sqlSelectPeers, nil)
	if err != nil {
		return nil, peerdb.Error.New("selectPeers: %v", err)
	}
	return fetchPeers(rows)
}

// PeersForHash implements store.Announcer
func (s *Store) PeersForHash(ctx context.Context, h peerdb.Hash) ([]peerdb.Peer, error) {
	rows, err := s.QueryEx(ctx, sqlSelectPeersForHash, nil, []byte(h))
	if err != nil {
		return nil, peerdb.Error.New("selectPeersForHash: %v", err)
	}
	return fetchPeers(rows)
}

// Hashes implements store.Directory
func (s *Store) Hashes(ctx context.Context) (swarms []peerdb.Swarm, err error) {
	rows, err := s.QueryEx(ctx, sqlSelectHashes, nil)
	if err != nil {
		return nil, peerdb.Error.New("selectHashes: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h pgtype.Bytea
		var count int64
		if err = rows.Scan(&h, &count); err != nil {
			return nil, peerdb.Corrupt("hash row: %v", err)
		}
		if h.Status != pgtype.Present || len(h.Bytes) == 0 {
			return nil, peerdb.Corrupt("empty hash")
		}
		swarms = append(swarms, peerdb.Swarm{Hash: peerdb.Hash(h.Bytes), Peers: int(count)})
	}
	if err = rows.Err(); err != nil {
		return nil, peerdb.Error.New("selectHashes: %v", err)
	}
	return swarms, nil
}

// PeerCount implements store.Counter
func (s *Store) PeerCount(ctx context.Context) (int, error) {
	return s.count(ctx, sqlCountPeers)
}

// HashCount implements store.Counter
func (s *Store) HashCount(ctx context.Context) (int, error) {
	return s.count(ctx, sqlCountHashes)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int64
	if err := s.QueryRowEx(ctx, query, nil).Scan(&n); err != nil {
		return 0, peerdb.Error.New("count: %v", err)
	}
	return int(n), nil
}

// CleanupPeers implements store.Cleaner
func (s *Store) CleanupPeers(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.BeginEx(ctx, nil)
	if err != nil {
		return 0, peerdb.Error.New("cleanupPeers: %v", err)
	}
	defer tx.Rollback()

	ts := peerdb.CutoffUnix(cutoff)
	if _, err = tx.ExecEx(ctx, sqlRemoveStalePeerHashes, nil, ts); err != nil {
		return 0, peerdb.Error.New("removeStalePeerHashes: %v", err)
	}
	ct, err := tx.ExecEx(ctx, sqlRemoveStalePeers, nil, ts)
	if err != nil {
		return 0, peerdb.Error.New("removeStalePeers: %v", err)
	}

	if err = tx.CommitEx(ctx); err != nil {
		return 0, peerdb.Error.New("cleanupPeers: %v", err)
	}
	return int(ct.RowsAffected()), nil
}

// CleanupHashes implements store.Cleaner
func (s *Store) CleanupHashes(ctx context.Context) (int, error) {
	ct, err := s.ExecEx(ctx, sqlRemoveOrphanHashes, nil)
	if err != nil {
		return 0, peerdb.Error.New("removeOrphanHashes: %v", err)
	}
	return int(ct.RowsAffected()), nil
}

func fetchPeers(rows *pgx.Rows) (peers []peerdb.Peer, err error) {
	defer rows.Close()
	for rows.Next() {
		var addr pgtype.Text
		var added, seen pgtype.Int8
		if err = rows.Scan(&addr, &added, &seen); err != nil {
			return nil, peerdb.Corrupt("peer row: %v", err)
		}
		// Link without a peer row
		if addr.Status != pgtype.Present {
			continue
		}
		var p peerdb.Peer
		if p.Addr, err = peerdb.ParseAddr(addr.String); err != nil {
			return nil, peerdb.Corrupt("peer address %q: %v", addr.String, err)
		}
		if added.Status != pgtype.Present || seen.Status != pgtype.Present {
			return nil, peerdb.Corrupt("peer %s has no timestamps", addr.String)
		}
		p.DateAdded = peerdb.FromUnix(added.Int)
		p.LastSeen = peerdb.FromUnix(seen.Int)
		peers = append(peers, p)
	}
	if err = rows.Err(); err != nil {
		return nil, peerdb.Error.Wrap(err)
	}
	return peers, nil
}

func (s *Store) migrate() error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var initialized bool
	err = tx.QueryRow(sqlCheckSchema).Scan(&initialized)
	if err != nil {
		return err
	}

	if !initialized {
		if _, err = tx.Exec(sqlSchema); err != nil {
			return err
		}
	}

	var currentVersion int
	err = tx.QueryRow("select schema_version from settings").Scan(&currentVersion)
	if err != nil {
		return err
	}
	if currentVersion != schemaVersion {
		return peerdb.Error.New("unsupported schema version %d", currentVersion)
	}

	return tx.Commit()
}

const (
	sqlInsertPeer = `insert into peers
	(address, date_added, last_seen) values ($1, $2, $3)
	on conflict (address) do nothing`

	sqlTouchPeer = `update peers
	set last_seen = greatest(last_seen, $1)
	where address = $2`

	sqlInsertHash = `insert into hashes (hash) values ($1)
	on conflict (hash) do nothing`

	sqlInsertPeerHash = `insert into peer_hashes
	(peer_pk, hash_pk)
	select p.pk, h.pk
	from peers p, hashes h
	where p.address = $1 and h.hash = $2
	on conflict do nothing`

	sqlGetPeer = `select address, date_added, last_seen
	from peers
	where address = $1`

	sqlSelectPeers = `select address, date_added, last_seen
	from peers`

	sqlSelectPeersForHash = `select p.address, p.date_added, p.last_seen
	from hashes h
	inner join peer_hashes ph on h.pk = ph.hash_pk
	left join peers p on p.pk = ph.peer_pk
	where h.hash = $1`

	sqlSelectHashes = `select h.hash, count(ph.peer_pk)
	from hashes h
	inner join peer_hashes ph on h.pk = ph.hash_pk
	group by h.pk, h.hash`

	sqlCountPeers = `select count(*) from peers`

	sqlCountHashes = `select count(*) from hashes`

	sqlRemovePeerHashes = `delete from peer_hashes
	where peer_pk in (
		select pk from peers where address = $1
	)`

	sqlRemovePeer = `delete from peers
	where address = $1
	returning address, date_added, last_seen`

	sqlRemoveStalePeerHashes = `delete from peer_hashes
	where peer_pk in (
		select pk from peers where last_seen < $1
	)`

	sqlRemoveStalePeers = `delete from peers
	where last_seen < $1`

	sqlRemoveOrphanHashes = `delete from hashes h
	where not exists (
		select 1 from peer_hashes ph where ph.hash_pk = h.pk
	)`

	sqlCheckSchema = `select exists (
		select 1 from pg_tables
		where schemaname = current_schema()
		and tablename = 'settings'
	)`

	sqlSchema = `create table if not exists peers (
		pk bigserial primary key,
		address character varying(300) not null unique,
		date_added bigint not null,
		last_seen bigint not null
	);
	create index if not exists peers_last_seen_idx on peers (last_seen);
	create table if not exists hashes (
		pk bigserial primary key,
		hash bytea not null unique
	);
	create table if not exists peer_hashes (
		peer_pk bigint not null references peers (pk),
		hash_pk bigint not null references hashes (pk),
		unique (peer_pk, hash_pk)
	);
	create index if not exists peer_hashes_hash_idx on peer_hashes (hash_pk);
	create table if not exists settings (
		schema_version integer not null
	);
	insert into settings (schema_version) values (1);`
)
