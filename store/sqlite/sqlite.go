package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"src.userspace.com.au/peerdb"
)

// Store is a peer directory in SQLite
type Store struct {
	stmts map[string]*sql.Stmt
	conn  *sql.DB
	lock  sync.RWMutex
}

// NewStore connects and initializes a new store. The default DSN of
// ":memory:" gives a transient directory.
func NewStore(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, peerdb.Error.New("failed to open store: %v", err)
	}
	// Every connection to :memory: is its own database
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, stmts: make(map[string]*sql.Stmt)}

	err = s.migrate()
	if err != nil {
		conn.Close()
		return nil, peerdb.Error.Wrap(err)
	}

	err = s.prepareStatements()
	if err != nil {
		conn.Close()
		return nil, peerdb.Error.Wrap(err)
	}

	return s, nil
}

// Close implements store.Directory
func (s *Store) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, stmt := range s.stmts {
		stmt.Close()
	}
	return peerdb.Error.Wrap(s.conn.Close())
}

// UpdatePeer implements store.Announcer
func (s *Store) UpdatePeer(ctx context.Context, p peerdb.Peer, hashes []peerdb.Hash) (known bool, err error) {
	p, err = peerdb.CheckUpdate(p, hashes)
	if err != nil {
		return false, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, peerdb.Error.New("updatePeer: %v", err)
	}
	defer tx.Rollback()

	addr := p.Addr.String()
	res, err := tx.StmtContext(ctx, s.stmts["insertPeer"]).ExecContext(ctx,
		addr, peerdb.ToUnix(p.DateAdded), peerdb.ToUnix(p.LastSeen),
	)
	if err != nil {
		return false, peerdb.Error.New("insertPeer: %v", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, peerdb.Error.New("insertPeer: %v", err)
	}

	if inserted == 0 {
		known = true
		if _, err = tx.StmtContext(ctx, s.stmts["touchPeer"]).ExecContext(ctx, peerdb.ToUnix(p.LastSeen), addr); err != nil {
			return false, peerdb.Error.New("touchPeer: %v", err)
		}
	}

	insertHash := tx.StmtContext(ctx, s.stmts["insertHash"])
	insertLink := tx.StmtContext(ctx, s.stmts["insertPeerHash"])
	for _, h := range hashes {
		if _, err = insertHash.ExecContext(ctx, []byte(h)); err != nil {
			return false, peerdb.Error.New("insertHash: %v", err)
		}
		if _, err = insertLink.ExecContext(ctx, addr, []byte(h)); err != nil {
			return false, peerdb.Error.New("insertPeerHash: %v", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, peerdb.Error.New("updatePeer: %v", err)
	}
	return known, nil
}

// RemovePeer implements store.Directory
func (s *Store) RemovePeer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, peerdb.Error.New("removePeer: %v", err)
	}
	defer tx.Rollback()

	rows, err := tx.StmtContext(ctx, s.stmts["getPeer"]).QueryContext(ctx, addr.String())
	if err != nil {
		return nil, peerdb.Error.New("getPeer: %v", err)
	}
	peers, err := fetchPeers(rows)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, nil
	}

	if _, err = tx.StmtContext(ctx, s.stmts["removePeerHashes"]).ExecContext(ctx, addr.String()); err != nil {
		return nil, peerdb.Error.New("removePeerHashes: %v", err)
	}
	if _, err = tx.StmtContext(ctx, s.stmts["removePeer"]).ExecContext(ctx, addr.String()); err != nil {
		return nil, peerdb.Error.New("removePeer: %v", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, peerdb.Error.New("removePeer: %v", err)
	}
	return &peers[0], nil
}

// Peer implements store.Directory
func (s *Store) Peer(ctx context.Context, addr peerdb.Addr) (*peerdb.Peer, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := s.stmts["getPeer"].QueryContext(ctx, addr.String())
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
	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := s.stmts["selectPeers"].QueryContext(ctx)
	if err != nil {
		return nil, peerdb.Error.New("selectPeers: %v", err)
	}
	return fetchPeers(rows)
}

// PeersForHash implements store.Announcer
func (s *Store) PeersForHash(ctx context.Context, h peerdb.Hash) ([]peerdb.Peer, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := s.stmts["selectPeersForHash"].QueryContext(ctx, []byte(h))
	if err != nil {
		return nil, peerdb.Error.New("selectPeersForHash: %v", err)
	}
	return fetchPeers(rows)
}

// Hashes implements store.Directory
func (s *Store) Hashes(ctx context.Context) (swarms []peerdb.Swarm, err error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	rows, err := s.stmts["selectHashes"].QueryContext(ctx)
	if err != nil {
		return nil, peerdb.Error.New("selectHashes: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sw peerdb.Swarm
		var h []byte
		if err = rows.Scan(&h, &sw.Peers); err != nil {
			return nil, peerdb.Corrupt("hash row: %v", err)
		}
		if len(h) == 0 {
			return nil, peerdb.Corrupt("empty hash")
		}
		sw.Hash = peerdb.Hash(h)
		swarms = append(swarms, sw)
	}
	if err = rows.Err(); err != nil {
		return nil, peerdb.Error.New("selectHashes: %v", err)
	}
	return swarms, nil
}

// PeerCount implements store.Counter
func (s *Store) PeerCount(ctx context.Context) (int, error) {
	return s.count(ctx, "countPeers")
}

// HashCount implements store.Counter
func (s *Store) HashCount(ctx context.Context) (int, error) {
	return s.count(ctx, "countHashes")
}

func (s *Store) count(ctx context.Context, name string) (n int, err error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if err = s.stmts[name].QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, peerdb.Error.New("%s: %v", name, err)
	}
	return n, nil
}

// CleanupPeers implements store.Cleaner
func (s *Store) CleanupPeers(ctx context.Context, cutoff time.Time) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, peerdb.Error.New("cleanupPeers: %v", err)
	}
	defer tx.Rollback()

	ts := peerdb.CutoffUnix(cutoff)
	if _, err = tx.StmtContext(ctx, s.stmts["removeStalePeerHashes"]).ExecContext(ctx, ts); err != nil {
		return 0, peerdb.Error.New("removeStalePeerHashes: %v", err)
	}
	res, err := tx.StmtContext(ctx, s.stmts["removeStalePeers"]).ExecContext(ctx, ts)
	if err != nil {
		return 0, peerdb.Error.New("removeStalePeers: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, peerdb.Error.New("removeStalePeers: %v", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, peerdb.Error.New("cleanupPeers: %v", err)
	}
	return int(n), nil
}

// CleanupHashes implements store.Cleaner
func (s *Store) CleanupHashes(ctx context.Context) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	res, err := s.stmts["removeOrphanHashes"].ExecContext(ctx)
	if err != nil {
		return 0, peerdb.Error.New("removeOrphanHashes: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, peerdb.Error.New("removeOrphanHashes: %v", err)
	}
	return int(n), nil
}

func fetchPeers(rows *sql.Rows) (peers []peerdb.Peer, err error) {
	defer rows.Close()
	for rows.Next() {
		var addr sql.NullString
		var added, seen sql.NullInt64
		if err = rows.Scan(&addr, &added, &seen); err != nil {
			return nil, peerdb.Corrupt("peer row: %v", err)
		}
		// Link without a peer row
		if !addr.Valid {
			continue
		}
		p, err := decodePeer(addr.String, added, seen)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	if err = rows.Err(); err != nil {
		return nil, peerdb.Error.Wrap(err)
	}
	return peers, nil
}

func decodePeer(addr string, added, seen sql.NullInt64) (p peerdb.Peer, err error) {
	if p.Addr, err = peerdb.ParseAddr(addr); err != nil {
		return p, peerdb.Corrupt("peer address %q: %v", addr, err)
	}
	if !added.Valid || !seen.Valid {
		return p, peerdb.Corrupt("peer %s has no timestamps", addr)
	}
	p.DateAdded = peerdb.FromUnix(added.Int64)
	p.LastSeen = peerdb.FromUnix(seen.Int64)
	return p, nil
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
	pragma journal_mode=wal;
	pragma temp_store=1;
	pragma foreign_keys=on;
	pragma encoding='utf-8';
	`)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRow("pragma user_version;").Scan(&version)
	if err != nil {
		return err
	}

	if version == 0 {
		_, err = tx.Exec(sqliteSchema)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) prepareStatements() error {
	var err error
	if s.stmts["insertPeer"], err = s.conn.Prepare(
		`insert into peers
		(address, date_added, last_seen)
		values
		(?, ?, ?)
		on conflict (address) do nothing`,
	); err != nil {
		return err
	}

	if s.stmts["touchPeer"], err = s.conn.Prepare(
		`update peers
		set last_seen = max(last_seen, ?)
		where address = ?`,
	); err != nil {
		return err
	}

	if s.stmts["insertHash"], err = s.conn.Prepare(
		`insert into hashes (hash) values (?)
		on conflict (hash) do nothing`,
	); err != nil {
		return err
	}

	if s.stmts["insertPeerHash"], err = s.conn.Prepare(
		`insert into peer_hashes
		(peer_pk, hash_pk)
		values (
			(select pk from peers where address = ?),
			(select pk from hashes where hash = ?)
		)
		on conflict (peer_pk, hash_pk) do nothing`,
	); err != nil {
		return err
	}

	if s.stmts["getPeer"], err = s.conn.Prepare(
		`select address, date_added, last_seen
		from peers
		where address = ?`,
	); err != nil {
		return err
	}

	if s.stmts["selectPeers"], err = s.conn.Prepare(
		`select address, date_added, last_seen
		from peers`,
	); err != nil {
		return err
	}

	if s.stmts["selectPeersForHash"], err = s.conn.Prepare(
		`select p.address, p.date_added, p.last_seen
		from hashes h
		inner join peer_hashes ph on h.pk = ph.hash_pk
		left join peers p on p.pk = ph.peer_pk
		where h.hash = ?`,
	); err != nil {
		return err
	}

	if s.stmts["selectHashes"], err = s.conn.Prepare(
		`select h.hash, count(ph.peer_pk)
		from hashes h
		inner join peer_hashes ph on h.pk = ph.hash_pk
		group by h.pk`,
	); err != nil {
		return err
	}

	if s.stmts["countPeers"], err = s.conn.Prepare(
		`select count(*) from peers`,
	); err != nil {
		return err
	}

	if s.stmts["countHashes"], err = s.conn.Prepare(
		`select count(*) from hashes`,
	); err != nil {
		return err
	}

	if s.stmts["removePeerHashes"], err = s.conn.Prepare(
		`delete from peer_hashes
		where peer_pk in (
			select pk from peers where address = ?
		)`,
	); err != nil {
		return err
	}

	if s.stmts["removePeer"], err = s.conn.Prepare(
		`delete from peers where address = ?`,
	); err != nil {
		return err
	}

	if s.stmts["removeStalePeerHashes"], err = s.conn.Prepare(
		`delete from peer_hashes
		where peer_pk in (
			select pk from peers where last_seen < ?
		)`,
	); err != nil {
		return err
	}

	if s.stmts["removeStalePeers"], err = s.conn.Prepare(
		`delete from peers where last_seen < ?`,
	); err != nil {
		return err
	}

	if s.stmts["removeOrphanHashes"], err = s.conn.Prepare(
		`delete from hashes
		where not exists (
			select 1 from peer_hashes ph where ph.hash_pk = hashes.pk
		)`,
	); err != nil {
		return err
	}

	return nil
}

const sqliteSchema = `create table if not exists peers (
	pk integer primary key autoincrement,
	address text not null unique,
	date_added integer not null,
	last_seen integer not null
);
create index if not exists peers_last_seen_idx on peers (last_seen);
create table if not exists hashes (
	pk integer primary key autoincrement,
	hash blob not null unique
);
create table if not exists peer_hashes (
	peer_pk integer not null references peers (pk),
	hash_pk integer not null references hashes (pk),
	unique (peer_pk, hash_pk)
);
create index if not exists peer_hashes_hash_idx on peer_hashes (hash_pk);
pragma user_version = 1;`
