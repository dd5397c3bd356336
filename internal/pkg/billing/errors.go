package billing

import "errors"

var (
	// ErrCustomerLookup means a provider customer has no local mapping.
	ErrCustomerLookup = errors.New("customer lookup failed")
	// ErrPriceLookup means a subscription references a price missing from the
	// local catalog. A forced catalog sync usually resolves it.
	ErrPriceLookup = errors.New("price lookup failed")
	// ErrNoCustomer means the user has never been mapped to a provider customer.
	ErrNoCustomer = errors.New("no billing customer for user")
	// ErrUserNotFound means the local user row does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRole means an override named a role the platform does not know.
	ErrInvalidRole = errors.New("invalid role")
	// ErrNothingToUpdate means an override carried no applicable field.
	ErrNothingToUpdate = errors.New("no valid fields to update")
	// ErrInvalidTokens means an override carried a negative token count.
	ErrInvalidTokens = errors.New("tokens must be a non-negative number")
)
