//go:build android || ios

package permission

const platformHasPermissionModel = true
