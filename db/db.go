package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

// Open opens (and creates, if missing) the sqlite database at the
// given path. The pool keeps multiple connections, so the path must be
// a real file; ":memory:" would give every connection its own database.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	}

	// Optimize PRAGMAs for the concurrent federation workload
	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqlDB}
	if err := database.RunMigrations(); err != nil {
		return nil, err
	}
	return database, nil
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

// encodeStrings serializes a string set for a TEXT column.
func encodeStrings(in []string) string {
	if in == nil {
		in = []string{}
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func decodeStrings(in string) []string {
	var out []string
	if in == "" {
		return out
	}
	json.Unmarshal([]byte(in), &out)
	return out
}

func encodePollOptions(in []domain.PollOption) string {
	if in == nil {
		in = []domain.PollOption{}
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func decodePollOptions(in string) []domain.PollOption {
	var out []domain.PollOption
	if in == "" {
		return out
	}
	json.Unmarshal([]byte(in), &out)
	return out
}

func nullableId(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// Account queries
const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateAccount = `UPDATE accounts SET display_name = ?, summary = ?, avatar_url = ? WHERE id = ?`
	sqlSelectAccount = `SELECT id, username, display_name, summary, avatar_url, web_public_key, web_private_key, created_at FROM accounts`
)

func (db *DB) CreateAccount(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			acc.WebPublicKey,
			acc.WebPrivateKey,
			acc.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateAccount(acc *domain.Account) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccount, acc.DisplayName, acc.Summary, acc.AvatarURL, acc.Id.String())
		return err
	})
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var idStr string
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.WebPublicKey, &acc.WebPrivateKey, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccount+` WHERE username = ?`, username))
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccount+` WHERE id = ?`, id.String()))
}

func (db *DB) ReadAllAccounts() (error, *[]domain.Account) {
	rows, err := db.db.Query(sqlSelectAccount + ` ORDER BY created_at ASC`)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var acc domain.Account
		var idStr string
		if err := rows.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &acc.WebPublicKey, &acc.WebPrivateKey, &acc.CreatedAt); err != nil {
			return err, &accounts
		}
		acc.Id, _ = uuid.Parse(idStr)
		accounts = append(accounts, acc)
	}
	if err = rows.Err(); err != nil {
		return err, &accounts
	}
	return nil, &accounts
}

// Remote account queries
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, slug, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, avatar_url, collections, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateRemoteAccount = `UPDATE remote_accounts SET display_name = ?, summary = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, public_key_pem = ?, avatar_url = ?, collections = ?, last_fetched_at = ? WHERE actor_uri = ?`
	sqlSelectRemoteAccount = `SELECT id, username, domain, slug, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, avatar_url, collections, last_fetched_at FROM remote_accounts`
	sqlDeleteRemoteAccount = `DELETE FROM remote_accounts WHERE id = ?`
)

func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.Slug,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			encodeStrings(acc.Collections),
			acc.LastFetchedAt,
		)
		return err
	})
	if err == nil {
		acc.Saved = true
	}
	return err
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			encodeStrings(acc.Collections),
			acc.LastFetchedAt,
			acc.ActorURI,
		)
		return err
	})
}

// EnsureRemoteAccount is the single promotion point from ephemeral to
// persisted. If an account with the same actor URI already exists, the
// caller's copy adopts its id and is written as an update.
func (db *DB) EnsureRemoteAccount(acc *domain.RemoteAccount) error {
	if acc.Saved {
		return nil
	}
	err, existing := db.ReadRemoteAccountByURI(acc.ActorURI)
	if err == nil && existing != nil {
		acc.Id = existing.Id
		// Keep collection tags accumulated on either copy
		for _, tag := range existing.Collections {
			acc.AddCollection(tag)
		}
		acc.Saved = true
		return db.UpdateRemoteAccount(acc)
	}
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	return db.CreateRemoteAccount(acc)
}

func (db *DB) scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr, collections string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.Slug,
		&acc.ActorURI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.SharedInboxURI,
		&acc.OutboxURI,
		&acc.PublicKeyPem,
		&acc.AvatarURL,
		&collections,
		&acc.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	acc.Collections = decodeStrings(collections)
	acc.Saved = true
	return nil, &acc
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	return db.scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccount+` WHERE actor_uri = ?`, uri))
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	return db.scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccount+` WHERE id = ?`, id.String()))
}

func (db *DB) ReadRemoteAccountsByIds(ids []uuid.UUID) (error, *[]domain.RemoteAccount) {
	if len(ids) == 0 {
		empty := []domain.RemoteAccount{}
		return nil, &empty
	}
	query := sqlSelectRemoteAccount + ` WHERE id IN (?` //nolint
	args := []interface{}{ids[0].String()}
	for _, id := range ids[1:] {
		query += `,?`
		args = append(args, id.String())
	}
	query += `)`

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var accounts []domain.RemoteAccount
	for rows.Next() {
		var acc domain.RemoteAccount
		var idStr, collections string
		if err := rows.Scan(&idStr, &acc.Username, &acc.Domain, &acc.Slug, &acc.ActorURI, &acc.DisplayName, &acc.Summary, &acc.InboxURI, &acc.SharedInboxURI, &acc.OutboxURI, &acc.PublicKeyPem, &acc.AvatarURL, &collections, &acc.LastFetchedAt); err != nil {
			return err, &accounts
		}
		acc.Id, _ = uuid.Parse(idStr)
		acc.Collections = decodeStrings(collections)
		acc.Saved = true
		accounts = append(accounts, acc)
	}
	if err = rows.Err(); err != nil {
		return err, &accounts
	}
	return nil, &accounts
}

func (db *DB) DeleteRemoteAccount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteAccount, id.String())
		return err
	})
}

// Follow queries
const (
	sqlInsertFollow          = `INSERT INTO follows(id, account_id, target_account_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollow          = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows`
	sqlDeleteFollowByURI     = `DELETE FROM follows WHERE uri = ?`
	sqlDeleteFollowsByAcc    = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
	sqlAcceptFollowByURI     = `UPDATE follows SET accepted = 1 WHERE uri = ?`
	sqlDeleteFollowBetweenId = `DELETE FROM follows WHERE account_id = ? AND target_account_id = ?`
)

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.TargetAccountId.String(),
			follow.URI,
			follow.Accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr string
	err := row.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &follow.Accepted, &follow.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accountIdStr)
	follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
	return nil, &follow
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollow+` WHERE uri = ?`, uri))
}

// ReadFollowBetween returns the follow where accountId follows targetId.
func (db *DB) ReadFollowBetween(accountId, targetId uuid.UUID) (error, *domain.Follow) {
	return db.scanFollow(db.db.QueryRow(sqlSelectFollow+` WHERE account_id = ? AND target_account_id = ?`, accountId.String(), targetId.String()))
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollowBetween(accountId, targetId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowBetweenId, accountId.String(), targetId.String())
		return err
	})
}

func (db *DB) DeleteFollowsByAccountId(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByAcc, id.String(), id.String())
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

func (db *DB) readFollows(query string, args ...interface{}) (error, *[]domain.Follow) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var follows []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr, accountIdStr, targetIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &follow.Accepted, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accountIdStr)
		follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}
	return nil, &follows
}

// ReadFollowersOf returns accepted follows targeting the given account
// (i.e. its followers).
func (db *DB) ReadFollowersOf(targetId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollow+` WHERE target_account_id = ? AND accepted = 1`, targetId.String())
}

// ReadFollowingOf returns accepted follows originated by the given
// account (i.e. who it follows).
func (db *DB) ReadFollowingOf(accountId uuid.UUID) (error, *[]domain.Follow) {
	return db.readFollows(sqlSelectFollow+` WHERE account_id = ? AND accepted = 1`, accountId.String())
}

// Block queries
const (
	sqlInsertBlock = `INSERT INTO blocks(id, account_id, remote_account_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectBlock = `SELECT id, account_id, remote_account_id, created_at FROM blocks WHERE account_id = ? AND remote_account_id = ?`
	sqlDeleteBlock = `DELETE FROM blocks WHERE account_id = ? AND remote_account_id = ?`
)

func (db *DB) CreateBlock(block *domain.Block) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlock,
			block.Id.String(),
			block.AccountId.String(),
			block.RemoteAccountId.String(),
			block.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadBlock(accountId, remoteId uuid.UUID) (error, *domain.Block) {
	row := db.db.QueryRow(sqlSelectBlock, accountId.String(), remoteId.String())
	var block domain.Block
	var idStr, accStr, remoteStr string
	err := row.Scan(&idStr, &accStr, &remoteStr, &block.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	block.Id, _ = uuid.Parse(idStr)
	block.AccountId, _ = uuid.Parse(accStr)
	block.RemoteAccountId, _ = uuid.Parse(remoteStr)
	return nil, &block
}

func (db *DB) DeleteBlock(accountId, remoteId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBlock, accountId.String(), remoteId.String())
		return err
	})
}

// Note queries
const (
	sqlInsertNote = `INSERT INTO notes(id, object_uri, object_type, account_id, remote_account_id, attributed_to, title, content, summary, sensitive, in_reply_to_uri, quote_uri, mentioned_urls, liked_by, boosted_by, like_count, boost_count, reply_count, related_count, raw_json, local, published, created_at, poll_options, voters_count, poll_ends_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateNote = `UPDATE notes SET object_type = ?, account_id = ?, remote_account_id = ?, attributed_to = ?, title = ?, content = ?, summary = ?, sensitive = ?, in_reply_to_uri = ?, quote_uri = ?, mentioned_urls = ?, liked_by = ?, boosted_by = ?, like_count = ?, boost_count = ?, reply_count = ?, related_count = ?, raw_json = ?, published = ?, poll_options = ?, voters_count = ?, poll_ends_at = ? WHERE id = ?`
	sqlSelectNote = `SELECT id, object_uri, object_type, account_id, remote_account_id, attributed_to, title, content, summary, sensitive, in_reply_to_uri, quote_uri, mentioned_urls, liked_by, boosted_by, like_count, boost_count, reply_count, related_count, raw_json, local, published, created_at, poll_options, voters_count, poll_ends_at FROM notes`
	sqlDeleteNote = `DELETE FROM notes WHERE id = ?`
)

func (db *DB) CreateNote(note *domain.Note) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote,
			note.Id.String(),
			note.ObjectURI,
			note.ObjectType,
			nullableId(note.AccountId),
			nullableId(note.RemoteAccountId),
			note.AttributedTo,
			note.Title,
			note.Content,
			note.Summary,
			note.Sensitive,
			note.InReplyToURI,
			note.QuoteURI,
			encodeStrings(note.MentionedURLs),
			encodeStrings(note.LikedBy),
			encodeStrings(note.BoostedBy),
			note.LikeCount,
			note.BoostCount,
			note.ReplyCount,
			note.RelatedCount,
			note.RawJSON,
			note.Local,
			note.Published,
			note.CreatedAt,
			encodePollOptions(note.PollOptions),
			note.VotersCount,
			note.PollEndsAt,
		)
		return err
	})
}

func (db *DB) UpdateNote(note *domain.Note) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateNote,
			note.ObjectType,
			nullableId(note.AccountId),
			nullableId(note.RemoteAccountId),
			note.AttributedTo,
			note.Title,
			note.Content,
			note.Summary,
			note.Sensitive,
			note.InReplyToURI,
			note.QuoteURI,
			encodeStrings(note.MentionedURLs),
			encodeStrings(note.LikedBy),
			encodeStrings(note.BoostedBy),
			note.LikeCount,
			note.BoostCount,
			note.ReplyCount,
			note.RelatedCount,
			note.RawJSON,
			note.Published,
			encodePollOptions(note.PollOptions),
			note.VotersCount,
			note.PollEndsAt,
			note.Id.String(),
		)
		return err
	})
}

func scanNoteRow(scan func(dest ...interface{}) error) (error, *domain.Note) {
	var note domain.Note
	var idStr, mentioned, likedBy, boostedBy, pollOptions string
	var accountId, remoteAccountId sql.NullString
	var pollEndsAt sql.NullTime
	err := scan(
		&idStr,
		&note.ObjectURI,
		&note.ObjectType,
		&accountId,
		&remoteAccountId,
		&note.AttributedTo,
		&note.Title,
		&note.Content,
		&note.Summary,
		&note.Sensitive,
		&note.InReplyToURI,
		&note.QuoteURI,
		&mentioned,
		&likedBy,
		&boostedBy,
		&note.LikeCount,
		&note.BoostCount,
		&note.ReplyCount,
		&note.RelatedCount,
		&note.RawJSON,
		&note.Local,
		&note.Published,
		&note.CreatedAt,
		&pollOptions,
		&note.VotersCount,
		&pollEndsAt,
	)
	if err != nil {
		return err, nil
	}
	note.Id, _ = uuid.Parse(idStr)
	if accountId.Valid {
		note.AccountId, _ = uuid.Parse(accountId.String)
	}
	if remoteAccountId.Valid {
		note.RemoteAccountId, _ = uuid.Parse(remoteAccountId.String)
	}
	note.MentionedURLs = decodeStrings(mentioned)
	note.LikedBy = decodeStrings(likedBy)
	note.BoostedBy = decodeStrings(boostedBy)
	note.PollOptions = decodePollOptions(pollOptions)
	if pollEndsAt.Valid {
		t := pollEndsAt.Time
		note.PollEndsAt = &t
	}
	return nil, &note
}

func (db *DB) scanNote(row *sql.Row) (error, *domain.Note) {
	err, note := scanNoteRow(row.Scan)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, note
}

func (db *DB) ReadNoteById(id uuid.UUID) (error, *domain.Note) {
	return db.scanNote(db.db.QueryRow(sqlSelectNote+` WHERE id = ?`, id.String()))
}

func (db *DB) ReadNoteByObjectURI(uri string) (error, *domain.Note) {
	return db.scanNote(db.db.QueryRow(sqlSelectNote+` WHERE object_uri = ?`, uri))
}

func (db *DB) readNotes(query string, args ...interface{}) (error, *[]domain.Note) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		err, note := scanNoteRow(rows.Scan)
		if err != nil {
			return err, &notes
		}
		notes = append(notes, *note)
	}
	if err = rows.Err(); err != nil {
		return err, &notes
	}
	return nil, &notes
}

func (db *DB) ReadNotesByAccountId(accountId uuid.UUID) (error, *[]domain.Note) {
	return db.readNotes(sqlSelectNote+` WHERE account_id = ? ORDER BY created_at DESC`, accountId.String())
}

func (db *DB) ReadAllNotes() (error, *[]domain.Note) {
	return db.readNotes(sqlSelectNote + ` ORDER BY created_at DESC`)
}

// ReadFederatedNotesOlderThan returns non-local notes beyond the
// retention cutoff.
func (db *DB) ReadFederatedNotesOlderThan(cutoff time.Time) (error, *[]domain.Note) {
	return db.readNotes(sqlSelectNote+` WHERE local = 0 AND created_at < ?`, cutoff)
}

func (db *DB) DeleteNote(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteNote, id.String())
		return err
	})
}

// Activity queries
const (
	sqlInsertActivity          = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivity          = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, created_at FROM activities`
	sqlDeleteActivity          = `DELETE FROM activities WHERE id = ?`
	sqlDeleteActivityByObjType = `DELETE FROM activities WHERE object_uri = ? AND activity_type = ?`
	sqlDeleteOldActivities     = `DELETE FROM activities WHERE local = 0 AND created_at < ?`
)

// CreateActivity writes the durable activity log entry. The id must be
// util.ActivityKey(activity.ActivityURI); inserting the same activity
// twice is a no-op error the caller is expected to pre-check with
// ReadActivityByURI.
func (db *DB) CreateActivity(activity *domain.Activity) error {
	if activity.Id == "" {
		activity.Id = util.ActivityKey(activity.ActivityURI)
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id,
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) scanActivity(row *sql.Row) (error, *domain.Activity) {
	var activity domain.Activity
	err := row.Scan(
		&activity.Id,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &activity
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivity+` WHERE id = ?`, util.ActivityKey(uri)))
}

func (db *DB) ReadActivityByObjectURI(objectURI string) (error, *domain.Activity) {
	return db.scanActivity(db.db.QueryRow(sqlSelectActivity+` WHERE object_uri = ? ORDER BY created_at DESC LIMIT 1`, objectURI))
}

func (db *DB) ReadAllActivities() (error, *[]domain.Activity) {
	rows, err := db.db.Query(sqlSelectActivity)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		if err := rows.Scan(&activity.Id, &activity.ActivityURI, &activity.ActivityType, &activity.ActorURI, &activity.ObjectURI, &activity.RawJSON, &activity.Local, &activity.CreatedAt); err != nil {
			return err, &activities
		}
		activities = append(activities, activity)
	}
	if err = rows.Err(); err != nil {
		return err, &activities
	}
	return nil, &activities
}

// CountActivitiesByObjectURI counts the activity records referencing
// an object, which is what related_activity_count denormalizes.
func (db *DB) CountActivitiesByObjectURI(objectURI string) (error, int) {
	var count int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM activities WHERE object_uri = ?`, objectURI).Scan(&count)
	return err, count
}

func (db *DB) DeleteActivity(id string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivity, id)
		return err
	})
}

// DeleteActivityByObjectAndType removes the activity of the given type
// wrapping an object, e.g. the Create record of a deleted note.
func (db *DB) DeleteActivityByObjectAndType(objectURI, activityType string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivityByObjType, objectURI, activityType)
		return err
	})
}

func (db *DB) DeleteFederatedActivitiesOlderThan(cutoff time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteOldActivities, cutoff)
		return err
	})
}
