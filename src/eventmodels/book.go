package eventmodels

// AccountBook is a point-in-time copy of the account service state used for
// reporting. All slices are deep copies: mutating a book never touches the
// live service state.
type AccountBook struct {
	Account   AccountSnapshot `json:"account"`
	Positions []Position      `json:"positions"`
	Orders    []Order         `json:"orders"`
	Trades    []Trade         `json:"trades"`
}
