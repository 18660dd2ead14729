/*
Package creds stores per-volume login credentials.

Some workloads expose an auxiliary service (an SFTP endpoint, an admin
panel) that needs a login scoped to the workload's volume. The
repository issues and persists those logins in a local bbolt database:
Ensure creates a login on first use and is a no-op afterwards, Reset
rotates the password, Revoke removes the login when the workload is
deleted.

Usernames are the volume id; passwords are random 24-byte hex tokens.
The repository never logs passwords.

	repo, err := creds.Open(filepath.Join(dataDir, "credentials.db"))
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Ensure(volumeID); err != nil { ... }
	login, err := repo.Get(volumeID)
*/
package creds
