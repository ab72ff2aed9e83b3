package engine

import "errors"

var (
	// ErrMarketNotFound is returned when the requested market does not exist.
	ErrMarketNotFound = errors.New("engine: market not found")

	// ErrPositionNotFound is returned when a close or redeem targets a
	// (user, market, side) tuple with no position record.
	ErrPositionNotFound = errors.New("engine: position not found")

	// ErrMarketNotOpen is returned when a trading operation hits a LOCKED
	// or RESOLVED market.
	ErrMarketNotOpen = errors.New("engine: market is not open for trading")

	// ErrMarketNotResolved is returned when a redeem targets a market
	// that has not resolved yet.
	ErrMarketNotResolved = errors.New("engine: market is not resolved")

	// ErrAlreadyResolved is returned when resolving or locking a market
	// that already resolved. Resolution is terminal and happens once.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrInvalidSide is returned when the side is neither YES nor NO.
	ErrInvalidSide = errors.New("engine: side must be YES or NO")

	// ErrConflict is returned after an operation exhausted its retry
	// budget against concurrent writers. The operation had no effect and
	// may be resubmitted; it will re-evaluate fresh state.
	ErrConflict = errors.New("engine: transaction conflict, retries exhausted")
)
