package worker

import (
	"context"

	"github.com/customeros/mailsync/internal/errors"
)

// defaultFolderPreference is tried in order; Gmail-style accounts sync
// the all-mail folder so archived conversations are still observed.
var defaultFolderPreference = []string{
	"[Gmail]/All Mail",
	"[Google Mail]/All Mail",
	"INBOX",
}

// chooseFolder lists the account's folders, picks the first preferred
// name that exists and selects it read-only. A server advertising none
// of the preferred folders is a protocol failure.
func (w *UserWorker) chooseFolder(ctx context.Context) error {
	available, err := w.client.ListFolders(ctx)
	if err != nil {
		return err
	}

	preference := defaultFolderPreference
	if len(w.user.Folders) > 0 {
		preference = w.user.Folders
	}

	byName := make(map[string]struct{}, len(available))
	for _, name := range available {
		byName[name] = struct{}{}
	}

	for _, candidate := range preference {
		if _, ok := byName[candidate]; ok {
			w.folderName = candidate
			return w.client.Examine(ctx, candidate)
		}
	}

	return errors.WithKind(errors.KindProtocol, errors.ErrNoSyncFolder)
}
