package transport

import "strconv"

// Broker disconnect reason for rejected credentials.
const authFailureReason = 5

// reasonCode normalizes a disconnect error into a numeric reason. Client
// libraries wrap broker reason codes differently between releases, so all
// interpretation of a disconnect funnels through here: a trailing integer in
// the error text is taken as the code, anything else maps to -1.
func reasonCode(err error) int {
	if err == nil {
		return 0
	}
	s := err.Error()
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return -1
	}
	code, convErr := strconv.Atoi(s[start:end])
	if convErr != nil {
		return -1
	}
	return code
}
