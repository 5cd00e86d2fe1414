package mimemsg

import "regexp"

// receivedQueueID matches the MTA queue-id token out of a Received header,
// e.g. "from mail.example.com (...) by mx.example.com (Postfix) with
// ESMTP id 4XYZAB1234; Tue, ..." -> "4XYZAB1234".
var receivedQueueID = regexp.MustCompile(`E?SMTP id ([A-Z0-9]+)`)

// QueueID extracts the MTA queue-id from the last (i.e. first-appearing,
// since Received headers are prepended) Received header on the message.
// Returns "" if no Received header carries a recognizable queue-id.
func (m *Message) QueueID() string {
	fields := m.header.FieldsByKey("Received")
	for fields.Next() {
		v, _ := fields.Text()
		if match := receivedQueueID.FindStringSubmatch(v); match != nil {
			return match[1]
		}
	}
	return ""
}
