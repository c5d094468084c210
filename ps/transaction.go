package ps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/storer"
)

// Transaction is one saved snapshot.
type Transaction struct {
	Id      string
	When    time.Time
	Author  string // "Name <email>" format
	Message string
}

func (transaction Transaction) String() string {
	return fmt.Sprintf("Transaction{Id: %s, When: %s, Author: %s}", transaction.Id, transaction.When, transaction.Author)
}

// ShortId returns the abbreviated commit hash.
func (transaction Transaction) ShortId() string {
	if len(transaction.Id) > 8 {
		return transaction.Id[:8]
	}
	return transaction.Id
}

func newTransaction(c *object.Commit) Transaction {
	author := ""
	if c.Author.Name != "" || c.Author.Email != "" {
		author = fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
	}
	return Transaction{
		Id:      c.Hash.String(),
		When:    c.Committer.When,
		Author:  author,
		Message: strings.TrimSpace(c.Message),
	}
}

// LatestTransaction returns the newest snapshot, or the zero Transaction when
// nothing was saved yet.
func (persistence *Persistence) LatestTransaction() Transaction {
	if !persistence.IsInitialized() {
		return Transaction{}
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	return persistence.latestTransaction()
}

func (persistence *Persistence) latestTransaction() Transaction {
	headRef, err := persistence.repo.Head()
	if err != nil || headRef == nil {
		return Transaction{}
	}

	commit, err := persistence.repo.CommitObject(headRef.Hash())
	if err != nil {
		return Transaction{}
	}

	return newTransaction(commit)
}

// History lists snapshots newest first. A limit of zero or less lists all.
func (persistence *Persistence) History(limit int) ([]Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return nil, err
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	if _, err := persistence.repo.Head(); err != nil {
		return nil, nil
	}

	cIter, err := persistence.repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, err
	}
	defer cIter.Close()

	var transactions []Transaction
	err = cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, newTransaction(c))
		if limit > 0 && len(transactions) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}

	return transactions, nil
}

// TransactionsSince lists snapshots committed at or after asof.
func (persistence *Persistence) TransactionsSince(asof time.Time) ([]Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return nil, err
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	if _, err := persistence.repo.Head(); err != nil {
		return nil, nil
	}

	cIter, err := persistence.repo.Log(&git.LogOptions{
		Since: &asof,
	})
	if err != nil {
		return nil, err
	}
	defer cIter.Close()

	var transactions []Transaction
	err = cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, newTransaction(c))
		return nil
	})

	return transactions, err
}

// FindTransaction resolves a full or abbreviated snapshot id, or a snapshot
// tag name.
func (persistence *Persistence) FindTransaction(revision string) (Transaction, error) {
	if err := persistence.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	persistence.mu.RLock()
	defer persistence.mu.RUnlock()

	hash, err := persistence.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, revision)
	}

	commit, err := persistence.repo.CommitObject(*hash)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, revision)
	}

	return newTransaction(commit), nil
}
